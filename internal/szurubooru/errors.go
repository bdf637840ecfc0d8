package szurubooru

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"boorusync/internal/session"
)

// ErrMissingFile signals that a post references a local media file that
// does not exist. The push for that post is aborted, never retried.
var ErrMissingFile = errors.New("post has no local media file")

// Error is a failure reported by the destination through its
// {name, description} envelope.
type Error struct {
	Name        string
	Description string
	StatusCode  int
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("szurubooru: %s (HTTP %d): %s", e.Name, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("szurubooru: %s (HTTP %d)", e.Name, e.StatusCode)
}

// Is matches two destination errors by name, so callers can test against
// the exported sentinels with errors.Is regardless of status or wording.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Name == e.Name
}

// Temporary reports whether the failure is transient and worth a backoff
// retry. Integrity conflicts are excluded here: they get their own
// slower retry loop around the whole tag reconciliation.
func (e *Error) Temporary() bool {
	switch e.Name {
	case nameTooManyRequests, nameInternalServer:
		return true
	case nameIntegrity:
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Conflict reports a protocol conflict that must never be retried at the
// transport level.
func (e *Error) Conflict() bool {
	if e.Name == nameIntegrity {
		return false
	}
	if e.StatusCode == http.StatusConflict {
		return true
	}
	if strings.HasSuffix(e.Name, "AlreadyExistsError") {
		return true
	}
	switch e.Name {
	case "PostAlreadyFeaturedError", "PostAlreadyUploadedError",
		"TagIsInUseError", "TagCategoryIsInUseError":
		return true
	}
	return false
}

const (
	nameIntegrity       = "IntegrityError"
	nameTooManyRequests = "TooManyRequestsError"
	nameInternalServer  = "InternalServerError"
)

// Sentinels for the envelope names the adapter branches on.
var (
	ErrIntegrity          = &Error{Name: nameIntegrity}
	ErrTagNotFound        = &Error{Name: "TagNotFoundError"}
	ErrTagAlreadyExists   = &Error{Name: "TagAlreadyExistsError"}
	ErrInvalidTagRelation = &Error{Name: "InvalidTagRelationError"}
	ErrPostNotFound       = &Error{Name: "PostNotFoundError"}
	ErrSearch             = &Error{Name: "SearchError"}
	ErrAuth               = &Error{Name: "AuthError"}
)

// errorNames is every name the destination can put in an error envelope.
// Unlisted names fall through to plain status handling.
var errorNames = map[string]bool{
	"MissingRequiredFileError":      true,
	"MissingRequiredParameterError": true,
	"InvalidParameterError":         true,
	"IntegrityError":                true,
	"SearchError":                   true,
	"AuthError":                     true,
	"PostNotFoundError":             true,
	"PostAlreadyFeaturedError":      true,
	"PostAlreadyUploadedError":      true,
	"InvalidPostIdError":            true,
	"InvalidPostSafetyError":        true,
	"InvalidPostSourceError":        true,
	"InvalidPostContentError":       true,
	"InvalidPostRelationError":      true,
	"InvalidPostNoteError":          true,
	"InvalidPostFlagError":          true,
	"InvalidFavoriteTargetError":    true,
	"InvalidCommentIdError":         true,
	"CommentNotFoundError":          true,
	"EmptyCommentTextError":         true,
	"InvalidScoreTargetError":       true,
	"InvalidScoreValueError":        true,
	"TagCategoryNotFoundError":      true,
	"TagCategoryAlreadyExistsError": true,
	"TagCategoryIsInUseError":       true,
	"InvalidTagCategoryNameError":   true,
	"InvalidTagCategoryColorError":  true,
	"TagNotFoundError":              true,
	"TagAlreadyExistsError":         true,
	"TagIsInUseError":               true,
	"InvalidTagNameError":           true,
	"InvalidTagRelationError":       true,
	"InvalidTagCategoryError":       true,
	"InvalidTagDescriptionError":    true,
	"UserNotFoundError":             true,
	"UserAlreadyExistsError":        true,
	"InvalidUserNameError":          true,
	"InvalidEmailError":             true,
	"InvalidPasswordError":          true,
	"InvalidRankError":              true,
	"InvalidAvatarError":            true,
	"ProcessingError":               true,
	"ValidationError":               true,
}

// statusFallback names errors for responses whose body carried no
// recognizable envelope.
var statusFallback = map[int]string{
	http.StatusTooManyRequests:     nameTooManyRequests,
	http.StatusInternalServerError: nameInternalServer,
}

// decodeError turns a non-2xx response into an error. A body decoding to
// a known envelope becomes a typed *Error; otherwise the status fallback
// table applies, and as a last resort the raw status is surfaced.
func decodeError(status int, body []byte) error {
	var envelope struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && errorNames[envelope.Name] {
		return &Error{Name: envelope.Name, Description: envelope.Description, StatusCode: status}
	}

	if name, ok := statusFallback[status]; ok {
		return &Error{Name: name, Description: truncate(string(body), 256), StatusCode: status}
	}

	return &session.StatusError{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       truncate(string(body), 512),
	}
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
