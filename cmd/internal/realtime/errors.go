package realtime

import "errors"

// Recoverable errors are reported to the originating connection via an
// "error" envelope and leave the connection open. The wire messages are
// stable: clients match on them.
var (
	// ErrInvalidContent is returned when a direct message is empty after trimming.
	ErrInvalidContent = errors.New("Invalid message data")

	// ErrNotAMember is returned when a caller holds no membership row for a group.
	ErrNotAMember = errors.New("You are not a member of this group")

	// ErrNotAdminAdd is returned when a non-admin tries to add members.
	ErrNotAdminAdd = errors.New("Only admins can add members")

	// ErrNotAdminRemove is returned when a non-admin tries to remove members.
	ErrNotAdminRemove = errors.New("Only admins can remove members")

	// ErrSelfRemoval is returned when an admin tries to remove themself via the
	// admin path instead of leaving.
	ErrSelfRemoval = errors.New("Use leave group to remove yourself")

	// ErrContentTooLong is returned when group message content exceeds the cap.
	ErrContentTooLong = errors.New("Message too long (max 5000 characters)")

	// ErrGroupNotFound is returned when a referenced group does not exist.
	ErrGroupNotFound = errors.New("Group not found")

	// ErrMessageNotFound is returned when a referenced message does not exist.
	ErrMessageNotFound = errors.New("Message not found")
)
