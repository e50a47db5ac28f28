package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	kit "otterbot/internal/transport"
)

// mapErr folds REST failures into the transport error set.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, classify(err), err)
}

func classify(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return kit.ErrDeliveryFailed
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownEmoji:
			return kit.ErrNotFound
		case discordgo.ErrCodeMissingAccess,
			discordgo.ErrCodeMissingPermissions,
			discordgo.ErrCodeCannotSendMessagesToThisUser:
			return kit.ErrPermissionDenied
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return kit.ErrNotFound
		case http.StatusForbidden:
			return kit.ErrPermissionDenied
		}
	}
	return kit.ErrDeliveryFailed
}
