package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
)

var db *pebble.DB

// Sentinel errors surfaced by lookups and conditional updates.
var (
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken is returned by CreatePrincipal on a duplicate username.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrEdgePairInconsistent reports that only one of the two directed
	// rows of a relationship was found.
	ErrEdgePairInconsistent = errors.New("relationship edge pair inconsistent")
)

// seqMu guards the id counters. Ids are reserved in memory and persisted
// in the same batch as the record they identify, so assigned ids are
// strictly monotonic for the store instance and survive restart.
var (
	seqMu        sync.Mutex
	messageSeq   int64
	principalSeq int64
)

const (
	seqMessageKey   = "sys:seq:message"
	seqPrincipalKey = "sys:seq:principal"
)

// Open opens (or creates) a Pebble database at the given path, keeps a
// global handle for simple usage in this package, and recovers the id
// counters.
func Open(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	messageSeq, err = loadSeq(seqMessageKey)
	if err != nil {
		return fmt.Errorf("recover message seq: %w", err)
	}
	principalSeq, err = loadSeq(seqPrincipalKey)
	if err != nil {
		return fmt.Errorf("recover principal seq: %w", err)
	}
	logger.Info("pebble_opened", "path", path, "message_seq", messageSeq, "principal_seq", principalSeq)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func loadSeq(key string) (int64, error) {
	v, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return strconv.ParseInt(string(v), 10, 64)
}

// Key layout:
//   principal:<%020d>                      principal JSON
//   username:<name>                        principal id (unique index)
//   msg:<%020d>                            message JSON
//   conv:<%020d lo>:<%020d hi>:<%020d id>  message id (conversation index)
//   friend:<%020d from>:<%020d to>         relationship edge JSON

func principalKey(id int64) []byte {
	return []byte(fmt.Sprintf("principal:%020d", id))
}

func usernameKey(name string) []byte {
	return []byte("username:" + name)
}

func messageKey(id int64) []byte {
	return []byte(fmt.Sprintf("msg:%020d", id))
}

func convKey(a, b, msgID int64) []byte {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return []byte(fmt.Sprintf("conv:%020d:%020d:%020d", lo, hi, msgID))
}

func convPrefix(a, b int64) []byte {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return []byte(fmt.Sprintf("conv:%020d:%020d:", lo, hi))
}

func friendKey(from, to int64) []byte {
	return []byte(fmt.Sprintf("friend:%020d:%020d", from, to))
}

// --- Principals ---

// CreatePrincipal assigns an id and persists the principal together with
// its username index entry. The username must be unused.
func CreatePrincipal(p models.Principal) (models.Principal, error) {
	if db == nil {
		return models.Principal{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if p.Username == "" {
		return models.Principal{}, fmt.Errorf("principal username required")
	}
	seqMu.Lock()
	defer seqMu.Unlock()
	// uniqueness check under the same lock as the commit, so two
	// concurrent registrations cannot both pass it
	if _, err := FindPrincipalByUsername(p.Username); err == nil {
		return models.Principal{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return models.Principal{}, err
	}
	id := principalSeq + 1

	p.ID = id
	if p.CreatedTS == 0 {
		p.CreatedTS = time.Now().UTC().UnixNano()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return models.Principal{}, fmt.Errorf("failed to marshal principal: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(seqPrincipalKey), []byte(strconv.FormatInt(id, 10)), nil)
	_ = batch.Set(principalKey(id), data, nil)
	_ = batch.Set(usernameKey(p.Username), []byte(strconv.FormatInt(id, 10)), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("create_principal_failed", "username", p.Username, "error", err)
		return models.Principal{}, err
	}
	principalSeq = id
	logger.Info("principal_created", "id", id, "kind", p.Kind)
	return p, nil
}

// GetPrincipal returns the principal with the given id.
func GetPrincipal(id int64) (models.Principal, error) {
	if db == nil {
		return models.Principal{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(principalKey(id))
	if err == pebble.ErrNotFound {
		return models.Principal{}, ErrNotFound
	}
	if err != nil {
		return models.Principal{}, err
	}
	defer closer.Close()
	var p models.Principal
	if err := json.Unmarshal(v, &p); err != nil {
		return models.Principal{}, fmt.Errorf("invalid stored principal: %w", err)
	}
	return p, nil
}

// FindPrincipalByUsername resolves a username through the index.
func FindPrincipalByUsername(name string) (models.Principal, error) {
	if db == nil {
		return models.Principal{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(usernameKey(name))
	if err == pebble.ErrNotFound {
		return models.Principal{}, ErrNotFound
	}
	if err != nil {
		return models.Principal{}, err
	}
	id, perr := strconv.ParseInt(string(v), 10, 64)
	closer.Close()
	if perr != nil {
		return models.Principal{}, fmt.Errorf("invalid username index entry: %w", perr)
	}
	return GetPrincipal(id)
}

// DeletePrincipal removes a principal and its username index entry in
// one batch. Messages and friend edges are left in place, matching the
// account-deletion semantics of the login database.
func DeletePrincipal(id int64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	p, err := GetPrincipal(id)
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(principalKey(id), nil)
	_ = batch.Delete(usernameKey(p.Username), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("delete_principal_failed", "id", id, "error", err)
		return err
	}
	logger.Info("principal_deleted", "id", id, "username", p.Username)
	return nil
}

// ListPrincipals returns all principals in id order.
func ListPrincipals() ([]models.Principal, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("principal:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Principal
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Principal
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("invalid stored principal: %w", err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// --- Messages ---

// AppendMessage persists a message, assigning its id and timestamp from
// the store. The assigned id is strictly greater than any previously
// assigned id for this store instance. The insert returns the completed
// record directly, so there is no read-back race between fast inserts.
func AppendMessage(m models.Message) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	seqMu.Lock()
	defer seqMu.Unlock()
	id := messageSeq + 1

	m.ID = id
	m.CreatedTS = time.Now().UTC().UnixNano()
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(seqMessageKey), []byte(strconv.FormatInt(id, 10)), nil)
	_ = batch.Set(messageKey(id), data, nil)
	_ = batch.Set(convKey(m.SenderID, m.ReceiverID, id), []byte(strconv.FormatInt(id, 10)), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "sender", m.SenderID, "receiver", m.ReceiverID, "error", err)
		return models.Message{}, err
	}
	messageSeq = id
	logger.Info("message_saved", "id", id, "sender", m.SenderID, "receiver", m.ReceiverID, "received", m.Received)
	return m, nil
}

// GetMessage returns the message with the given id.
func GetMessage(id int64) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(messageKey(id))
	if err == pebble.ErrNotFound {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, fmt.Errorf("invalid stored message: %w", err)
	}
	return m, nil
}

// MarkReceived flips a message's received flag to true. The flip happens
// at most once; re-application is an idempotent no-op. It reports whether
// this call performed the transition.
func MarkReceived(id int64) (bool, error) {
	m, err := GetMessage(id)
	if err != nil {
		return false, err
	}
	if m.Received {
		return false, nil
	}
	m.Received = true
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(messageKey(id), data, pebble.Sync); err != nil {
		logger.Error("mark_received_failed", "id", id, "error", err)
		return false, err
	}
	return true, nil
}

// MarkConversationRead flips every queued message from sender to receiver
// to received and returns how many rows changed. Repeating the call is a
// no-op.
func MarkConversationRead(receiverID, senderID int64) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	msgs, err := ListConversation(receiverID, senderID, 0, 0)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range msgs {
		if m.SenderID != senderID || m.ReceiverID != receiverID || m.Received {
			continue
		}
		did, err := MarkReceived(m.ID)
		if err != nil {
			return changed, err
		}
		if did {
			changed++
		}
	}
	return changed, nil
}

// ListConversation returns messages between two principals with id >
// afterID, ascending by id. A limit of 0 means no limit.
func ListConversation(a, b int64, afterID int64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := convPrefix(a, b)
	start := convKey(a, b, afterID+1)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		id, perr := strconv.ParseInt(string(iter.Value()), 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("invalid conversation index entry: %w", perr)
		}
		m, merr := GetMessage(id)
		if merr != nil {
			return nil, merr
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// --- Relationship edges ---

// GetFriendEdge returns the directed edge (from, to).
func GetFriendEdge(from, to int64) (models.FriendEdge, error) {
	if db == nil {
		return models.FriendEdge{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(friendKey(from, to))
	if err == pebble.ErrNotFound {
		return models.FriendEdge{}, ErrNotFound
	}
	if err != nil {
		return models.FriendEdge{}, err
	}
	defer closer.Close()
	var e models.FriendEdge
	if err := json.Unmarshal(v, &e); err != nil {
		return models.FriendEdge{}, fmt.Errorf("invalid stored edge: %w", err)
	}
	return e, nil
}

// UpsertFriendPair writes both directed edges of a relationship with the
// given status in one batch. Existing rows are overwritten, refreshing
// the timestamp; rows are never hard-deleted.
func UpsertFriendPair(a, b int64, status string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	ts := time.Now().UTC().UnixNano()
	ab, err := json.Marshal(models.FriendEdge{FromID: a, ToID: b, Status: status, UpdatedTS: ts})
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}
	ba, err := json.Marshal(models.FriendEdge{FromID: b, ToID: a, Status: status, UpdatedTS: ts})
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set(friendKey(a, b), ab, nil)
	_ = batch.Set(friendKey(b, a), ba, nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("upsert_friend_pair_failed", "from", a, "to", b, "error", err)
		return err
	}
	return nil
}

// UpdateFriendPair transitions an existing relationship to the given
// status. Both directed rows must already exist; they are rewritten in a
// single batch so the pair cannot be left half-updated. A pair with only
// one surviving row is reported as ErrEdgePairInconsistent.
func UpdateFriendPair(a, b int64, status string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, errAB := GetFriendEdge(a, b)
	_, errBA := GetFriendEdge(b, a)
	switch {
	case errors.Is(errAB, ErrNotFound) && errors.Is(errBA, ErrNotFound):
		return ErrNotFound
	case errAB != nil && errBA == nil:
		return fmt.Errorf("%w: missing (%d,%d)", ErrEdgePairInconsistent, a, b)
	case errBA != nil && errAB == nil:
		return fmt.Errorf("%w: missing (%d,%d)", ErrEdgePairInconsistent, b, a)
	case errAB != nil:
		return errAB
	}
	return UpsertFriendPair(a, b, status)
}

// ListFriendIDs returns the ids of principals whose edge from userID
// carries the given status.
func ListFriendIDs(userID int64, status string) ([]int64, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(fmt.Sprintf("friend:%020d:", userID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []int64
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var e models.FriendEdge
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("invalid stored edge: %w", err)
		}
		if e.Status == status {
			out = append(out, e.ToID)
		}
	}
	return out, iter.Error()
}

// ListFriendEdges returns every directed edge in the store.
func ListFriendEdges() ([]models.FriendEdge, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("friend:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.FriendEdge
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var e models.FriendEdge
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("invalid stored edge: %w", err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}
