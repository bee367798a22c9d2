package types

import "regexp"

// Compiled once at package initialization; user IDs appear on every
// envelope and registry lookup.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
// The 1-50 character limit keeps IDs safe for storage keys and display.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole reports whether role is one of the two supported roles.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidStatus reports whether status is a markable attendance status.
// StatusUnmarked is a read-side sentinel and is deliberately excluded.
func IsValidStatus(status string) bool {
	return status == StatusPresent || status == StatusAbsent
}

// IsValidEvent reports whether event names a known inbound envelope event.
func IsValidEvent(event string) bool {
	switch event {
	case EventJoinRequest,
		EventApproveJoin,
		EventRejectJoin,
		EventGetPendingRequests,
		EventGetMyClasses,
		EventAttendanceMarked,
		EventTodaySummary,
		EventMyAttendance,
		EventDone:
		return true
	default:
		return false
	}
}
