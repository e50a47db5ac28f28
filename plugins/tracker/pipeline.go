package tracker

import (
	"context"
	"fmt"
	"strings"
)

// Stage is a pipeline column. Values are column indexes in A:I.
type Stage int

const (
	StageApply     Stage = 2
	StageOA        Stage = 3
	StagePhone     Stage = 4
	StageInterview Stage = 5
	StageFinal     Stage = 6
	StageOffer     Stage = 7
	StageRejection Stage = 8

	rowWidth = 9
	empty    = "-"
	mark     = "✅"
)

// Column is the A1 column letter of s.
func (s Stage) Column() string { return string(rune('A' + int(s))) }

// Label is how replies name the stage.
func (s Stage) Label() string {
	switch s {
	case StageOA:
		return "an Online Assessment"
	case StagePhone:
		return "a Phone Interview"
	case StageInterview:
		return "an Interview"
	case StageFinal:
		return "a Final Round Interview"
	case StageOffer:
		return "an Offer"
	case StageRejection:
		return "a Rejection"
	default:
		return "an Application"
	}
}

// Result is the outcome of Insert. The numeric values are stable.
type Result int

const (
	AlreadyApplied  Result = 0
	AdvancedProcess Result = 1
	FinalDecision   Result = 2
	Updated         Result = 3
	Appended        Result = 4
	MustApplyFirst  Result = 5
)

func (r Result) String() string {
	switch r {
	case AlreadyApplied:
		return "already_applied"
	case AdvancedProcess:
		return "advanced_process"
	case FinalDecision:
		return "final_decision"
	case Updated:
		return "updated"
	case Appended:
		return "appended"
	case MustApplyFirst:
		return "must_apply_first"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Insert records that user reached stage with company.
//
// A row is (user, company, apply, oa, phone, interview, final, offer,
// rejection) with "-" for stages not reached. Stages only move forward and
// offer/rejection close the row. Apply creates the row; any other stage
// needs one.
func Insert(ctx context.Context, sh Sheet, user, company string, stage Stage) (Result, error) {
	rows, err := sh.Rows(ctx)
	if err != nil {
		return 0, err
	}
	for i, raw := range rows {
		if len(raw) < 2 || raw[0] != user || raw[1] != company {
			continue
		}
		row := pad(raw)
		for c := int(stage); c < rowWidth-2; c++ {
			if row[c] == empty {
				continue
			}
			if stage == StageApply {
				return AlreadyApplied, nil
			}
			return AdvancedProcess, nil
		}
		if row[rowWidth-2] != empty || row[rowWidth-1] != empty {
			return FinalDecision, nil
		}
		if err := sh.UpdateCell(ctx, fmt.Sprintf("%s%d", stage.Column(), i+1), mark); err != nil {
			return 0, err
		}
		return Updated, nil
	}
	if stage != StageApply {
		return MustApplyFirst, nil
	}
	row := []string{user, company, mark}
	for len(row) < rowWidth {
		row = append(row, empty)
	}
	if err := sh.AppendRow(ctx, row); err != nil {
		return 0, err
	}
	return Appended, nil
}

// pad fills cells the API trimmed from the end of a row.
func pad(row []string) []string {
	out := make([]string, rowWidth)
	for i := range out {
		out[i] = empty
		if i < len(row) && strings.TrimSpace(row[i]) != "" {
			out[i] = row[i]
		}
	}
	return out
}

// resultMessage is the chat reply for an Insert outcome.
func resultMessage(user, company string, stage Stage, r Result) string {
	switch r {
	case AlreadyApplied:
		return fmt.Sprintf("%s already applied to %s. ❌", user, company)
	case AdvancedProcess:
		return fmt.Sprintf("%s has an advanced process with %s, can't have %s. ❌", user, company, stage.Label())
	case FinalDecision:
		return fmt.Sprintf("%s has already received a decision from %s. ❌", user, company)
	case Updated:
		switch stage {
		case StageOffer:
			return fmt.Sprintf("%s has received %s from %s. 🎉", user, stage.Label(), company)
		case StageRejection:
			return fmt.Sprintf("%s has received %s from %s. 😭", user, stage.Label(), company)
		}
		return fmt.Sprintf("%s has received %s from %s. ✅", user, stage.Label(), company)
	case Appended:
		return fmt.Sprintf("%s has applied to %s successfully. ✅", user, company)
	default:
		return fmt.Sprintf("%s must apply to %s before trying to use this command. ❌", user, company)
	}
}
