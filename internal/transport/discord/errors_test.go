package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	kit "otterbot/internal/transport"
)

func restErr(status, code int) error {
	e := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	if code != 0 {
		e.Message = &discordgo.APIErrorMessage{Code: code, Message: "x"}
	}
	return e
}

func TestMapErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown message", restErr(404, discordgo.ErrCodeUnknownMessage), kit.ErrNotFound},
		{"unknown channel", restErr(404, discordgo.ErrCodeUnknownChannel), kit.ErrNotFound},
		{"bare 404", restErr(404, 0), kit.ErrNotFound},
		{"missing access", restErr(403, discordgo.ErrCodeMissingAccess), kit.ErrPermissionDenied},
		{"closed dms", restErr(403, discordgo.ErrCodeCannotSendMessagesToThisUser), kit.ErrPermissionDenied},
		{"bare 403", restErr(403, 0), kit.ErrPermissionDenied},
		{"server error", restErr(500, 0), kit.ErrDeliveryFailed},
		{"network", errors.New("dial tcp: timeout"), kit.ErrDeliveryFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapErr("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("mapErr()=%v, want errors.Is %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("original error lost: %v", got)
			}
		})
	}
}

func TestToMessageSendValidation(t *testing.T) {
	t.Parallel()

	if _, err := toMessageSend(kit.OutMessage{}); !errors.Is(err, kit.ErrValidation) {
		t.Fatalf("empty message should fail validation, got %v", err)
	}
	data, err := toMessageSend(kit.OutMessage{
		Content: "hi <@&42>",
		Buttons: []kit.Button{{Label: "Accept", CustomID: "tracker:accept:x", Style: kit.ButtonSuccess}},
		Files:   []kit.File{{Name: "pairs.png", ContentType: "image/png", Data: []byte{1}}},
		MentionRoles: []string{"42"},
	})
	if err != nil {
		t.Fatalf("toMessageSend: %v", err)
	}
	if len(data.Components) != 1 || len(data.Files) != 1 {
		t.Fatalf("unexpected payload: %+v", data)
	}
	if len(data.AllowedMentions.Roles) != 1 || data.AllowedMentions.Roles[0] != "42" {
		t.Fatalf("role mention not allowed: %+v", data.AllowedMentions)
	}
}
