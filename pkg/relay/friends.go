package relay

import (
	"errors"
	"fmt"

	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/store"
	"github.com/ghhufue/chatrelay/pkg/telemetry"
)

// Friends manages the pending/accepted/unrelated edges between
// principals.
type Friends struct {
	registry  *presence.Registry
	directory *auth.Directory
}

func NewFriends(registry *presence.Registry, directory *auth.Directory) *Friends {
	return &Friends{registry: registry, directory: directory}
}

// Request records a friend request from one principal to another. A
// first request inserts the symmetric pending pair; a repeat collapses
// onto the same pair, refreshing status and timestamp. A live recipient
// is notified with the requester's profile; otherwise the request is
// discoverable on the next fetch.
func (f *Friends) Request(fromID, toID int64, description string) error {
	requester, err := f.directory.Lookup(fromID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: requester %d", ErrPrincipalNotFound, fromID)
		}
		return err
	}
	if _, err := f.directory.Lookup(toID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: recipient %d", ErrPrincipalNotFound, toID)
		}
		return err
	}

	_, err = store.GetFriendEdge(fromID, toID)
	fresh := errors.Is(err, store.ErrNotFound)
	if err != nil && !fresh {
		return err
	}
	if err := store.UpsertFriendPair(fromID, toID, models.FriendPending); err != nil {
		return fmt.Errorf("persist friend request: %w", err)
	}
	telemetry.FriendRequests.Inc()
	if fresh {
		logger.Info("friend_request_created", "from", fromID, "to", toID)
	} else {
		logger.Info("friend_request_refreshed", "from", fromID, "to", toID)
	}

	if sess, ok := f.registry.Lookup(toID); ok {
		frame := models.NewFriendRequest{
			Type:        "newFriendRequest",
			FriendID:    fromID,
			Description: description,
			Avatar:      requester.Avatar,
			Nickname:    requester.Nickname,
			Timestamp:   models.WireTime(nowNS()),
		}
		if err := sess.Send(frame); err != nil {
			logger.Warn("friend_request_push_failed", "to", toID, "error", err)
		}
	}
	return nil
}

// Resolve transitions an existing relationship to accepted or unrelated.
// Both directed edges change together; any other status value, or a pair
// with no prior request, fails without effect.
func (f *Friends) Resolve(userID, friendID int64, status string) error {
	if status != models.FriendAccepted && status != models.FriendUnrelated {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	err := store.UpdateFriendPair(userID, friendID, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: (%d,%d)", ErrNotFound, userID, friendID)
	case errors.Is(err, store.ErrEdgePairInconsistent):
		return fmt.Errorf("%w: (%d,%d)", ErrPartialRelationshipUpdate, userID, friendID)
	case err != nil:
		return fmt.Errorf("update relationship: %w", err)
	}
	logger.Info("friend_request_resolved", "user", userID, "friend", friendID, "status", status)
	return nil
}
