package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/store"
)

type account struct {
	ID    int64
	Token string
}

func createAccount(t *testing.T, base, username string) account {
	t.Helper()
	resp := PostJSON(t, base+"/api/register", map[string]string{
		"username": username, "password": "pw-" + username, "nickname": username,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	reg := DecodeBody[struct {
		ID int64 `json:"userId"`
	}](t, resp)

	resp = PostJSON(t, base+"/api/login", map[string]string{
		"username": username, "password": "pw-" + username,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	login := DecodeBody[struct {
		Token string `json:"token"`
	}](t, resp)
	return account{ID: reg.ID, Token: login.Token}
}

// readFrame reads one ws frame of the given type tag, failing on timeout.
func readFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q frame: %v", wantType, err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("invalid frame %q: %v", data, err)
		}
		if frame["type"] == wantType {
			return frame
		}
	}
}

func TestMessageFlowLiveAndQueued(t *testing.T) {
	srv := SetupServer(t, nil)
	alice := createAccount(t, srv.URL, "alice")
	bob := createAccount(t, srv.URL, "bob")

	aliceConn := DialWS(t, srv)
	bobConn := DialWS(t, srv)
	if err := aliceConn.WriteJSON(map[string]string{"type": "connect", "token": alice.Token}); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	if err := bobConn.WriteJSON(map[string]string{"type": "connect", "token": bob.Token}); err != nil {
		t.Fatalf("bob connect: %v", err)
	}

	// live delivery: bob is connected, so he gets the push and the row is
	// marked received
	if err := aliceConn.WriteJSON(map[string]any{
		"type": "sendMessage", "token": alice.Token,
		"receiverId": bob.ID, "content": "hello bob", "message_type": "text",
	}); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	ack := readFrame(t, aliceConn, "messageReturn")
	push := readFrame(t, bobConn, "newMessage")
	if ack["message_id"] != push["message_id"] {
		t.Fatalf("ack and push disagree on message id: %v vs %v", ack["message_id"], push["message_id"])
	}
	if push["content"] != "hello bob" {
		t.Fatalf("unexpected pushed content %v", push["content"])
	}

	// queued delivery: bob disconnects, the next message is stored unread
	_ = bobConn.Close()
	time.Sleep(50 * time.Millisecond)
	if err := aliceConn.WriteJSON(map[string]any{
		"type": "sendMessage", "token": alice.Token,
		"receiverId": bob.ID, "content": "are you there", "message_type": "text",
	}); err != nil {
		t.Fatalf("sendMessage offline: %v", err)
	}
	readFrame(t, aliceConn, "messageReturn")

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := store.ListConversation(alice.ID, bob.ID, 0, 0)
		if err != nil {
			t.Fatalf("ListConversation: %v", err)
		}
		if len(msgs) == 2 && msgs[0].Received && !msgs[1].Received {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected live row received and queued row unread, got %+v", msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// bob reconnects and reads the conversation over HTTP, then flips the
	// delivery state with a readMessage event
	resp := PostJSON(t, srv.URL+"/api/fetchChatHistory", map[string]any{
		"token": bob.Token, "friendId": alice.ID, "afterId": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetchChatHistory: status %d", resp.StatusCode)
	}
	history := DecodeBody[[]models.Message](t, resp)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages in history, got %d", len(history))
	}

	bobConn2 := DialWS(t, srv)
	if err := bobConn2.WriteJSON(map[string]any{
		"type": "readMessage", "token": bob.Token, "senderId": alice.ID,
	}); err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		msgs, _ := store.ListConversation(alice.ID, bob.ID, 0, 0)
		if len(msgs) == 2 && msgs[1].Received {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued message never flipped to received")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFriendRequestFlow(t *testing.T) {
	srv := SetupServer(t, nil)
	alice := createAccount(t, srv.URL, "alice")
	bob := createAccount(t, srv.URL, "bob")

	bobConn := DialWS(t, srv)
	if err := bobConn.WriteJSON(map[string]string{"type": "connect", "token": bob.Token}); err != nil {
		t.Fatalf("bob connect: %v", err)
	}

	aliceConn := DialWS(t, srv)
	if err := aliceConn.WriteJSON(map[string]any{
		"type": "sendFriendRequest", "token": alice.Token,
		"receiverId": bob.ID, "description": "hi, it's alice",
	}); err != nil {
		t.Fatalf("sendFriendRequest: %v", err)
	}

	notif := readFrame(t, bobConn, "newFriendRequest")
	if notif["description"] != "hi, it's alice" {
		t.Fatalf("unexpected notification %v", notif)
	}

	resp := PostJSON(t, srv.URL+"/api/updateFriendRequest", map[string]any{
		"token": bob.Token, "friendId": alice.ID, "status": models.FriendAccepted,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("updateFriendRequest: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	list, err := http.Get(srv.URL + "/api/getfriends?token=" + alice.Token)
	if err != nil {
		t.Fatalf("getfriends: %v", err)
	}
	friends := DecodeBody[[]models.Profile](t, list)
	if len(friends) != 1 || friends[0].ID != bob.ID {
		t.Fatalf("expected bob in alice's friends, got %+v", friends)
	}
}

func TestAutomatedPeerReplies(t *testing.T) {
	srv := SetupServer(t, nil)
	alice := createAccount(t, srv.URL, "alice")

	bot, err := store.CreatePrincipal(models.Principal{
		Username: "helper-bot", Nickname: "Helper", Kind: models.KindAutomated,
	})
	if err != nil {
		t.Fatalf("CreatePrincipal bot: %v", err)
	}

	conn := DialWS(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "connect", "token": alice.Token}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{
		"type": "sendMessage", "token": alice.Token,
		"receiverId": bot.ID, "content": "help me", "message_type": "text",
		"historyMessages": []map[string]any{
			{"id": 1, "sender_id": alice.ID, "receiver_id": bot.ID, "content": "help me", "messageType": "text"},
		},
	}); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}

	readFrame(t, conn, "messageReturn")
	replyFrame := readFrame(t, conn, "newMessage")
	if replyFrame["content"] != "ok" {
		t.Fatalf("expected canned reply, got %v", replyFrame["content"])
	}
	if int64(replyFrame["sender_id"].(float64)) != bot.ID {
		t.Fatalf("reply should come from the bot, got %v", replyFrame["sender_id"])
	}
}
