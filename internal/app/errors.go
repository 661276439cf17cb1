package app

import (
	"fmt"
	"net/http"

	"margin/api/internal/annotate"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errForbidden(action string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errUnresolvableSelection() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "UNRESOLVABLE_SELECTION", "Selection does not match the post text", nil)
}

func errAlreadyVoted(vote annotate.VoteType) *DomainError {
	var details any
	if vote != "" {
		details = map[string]any{"vote": vote, "tooltip": annotate.VoteTooltipFor(vote)}
	}
	return domainError(http.StatusConflict, "ALREADY_VOTED", "You have already voted on this post", details)
}

func errInvalidTag(action annotate.ActionType) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_TAG", "Tag is not offered for this vote", map[string]any{
		"allowed": annotate.VoteTags(action),
	})
}

func errBlankComment() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "BLANK_COMMENT", "Comment text is required", nil)
}

func errUnavailable(code, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}
