package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatapi/pkg/ai"
	"chatapi/pkg/domain"
)

func signUpUser(t *testing.T, a *App, email string) domain.User {
	t.Helper()
	user, _, err := a.SignUp("Test User", email, "hunter2")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}

func TestCreateChatDefaultsTitle(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")

	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.Title != domain.DefaultChatTitle {
		t.Fatalf("expected default title, got %q", chat.Title)
	}
	if chat.ID == "" || chat.UserID != user.ID {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	custom, err := a.CreateChat(user.ID, "  Kitchen ideas  ")
	if err != nil {
		t.Fatalf("create custom chat: %v", err)
	}
	if custom.Title != "Kitchen ideas" {
		t.Fatalf("expected trimmed custom title, got %q", custom.Title)
	}
}

func TestChatAccessIsOwnerScoped(t *testing.T) {
	a, _ := newTestApp(t, nil)
	owner := signUpUser(t, a, "owner@example.com")
	intruder := signUpUser(t, a, "intruder@example.com")

	chat, err := a.CreateChat(owner.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := a.GetChat(intruder.ID, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign get: %v", err)
	}
	if _, err := a.DeleteChat(intruder.ID, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	if _, err := a.RenameChat(intruder.ID, chat.ID, "mine now"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign rename: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), intruder.ID, chat.ID, "hi"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign send: %v", err)
	}

	chats, err := a.ListChats(intruder.ID)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("foreign chats leaked into listing: %+v", chats)
	}
}

func TestSendMessageAppendsUserAndAssistantTurns(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	messages, err := a.SendMessage(context.Background(), user.ID, chat.ID, "Hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[0].Content != "Hello" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].Content != ai.DemoReply {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}

	got, err := a.GetChat(user.ID, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "Hello" {
		t.Fatalf("title not derived from first message: %q", got.Title)
	}
}

func TestSendMessageValidation(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := a.SendMessage(context.Background(), user.ID, chat.ID, "   "); !errors.Is(err, ErrContentRequired) {
		t.Fatalf("blank content: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), user.ID, "missing", "hi"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat: %v", err)
	}
}

func TestSendMessageDerivesLongTitleOnce(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	long := strings.Repeat("q", 70)
	if _, err := a.SendMessage(context.Background(), user.ID, chat.ID, long); err != nil {
		t.Fatalf("send long message: %v", err)
	}
	got, err := a.GetChat(user.ID, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	want := strings.Repeat("q", 50) + "..."
	if got.Title != want {
		t.Fatalf("expected %q, got %q", want, got.Title)
	}

	// A later exchange leaves the derived title alone.
	if _, err := a.SendMessage(context.Background(), user.ID, chat.ID, "short follow-up"); err != nil {
		t.Fatalf("send follow-up: %v", err)
	}
	got, _ = a.GetChat(user.ID, chat.ID)
	if got.Title != want {
		t.Fatalf("title changed after follow-up: %q", got.Title)
	}
}

func TestRegenerateReplacesTailWithFreshReply(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := a.SendMessage(context.Background(), user.ID, chat.ID, "Hello"); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	messages, err := a.SendMessage(context.Background(), user.ID, chat.ID, "Tell me more")
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}

	// Regenerating from the second assistant message drops it and appends
	// exactly one new assistant turn.
	regenerated, err := a.Regenerate(context.Background(), user.ID, chat.ID, messages[3].ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(regenerated) != 4 {
		t.Fatalf("expected 4 messages after regenerate, got %d", len(regenerated))
	}
	if regenerated[3].Role != domain.RoleAssistant {
		t.Fatalf("expected trailing assistant message, got %+v", regenerated[3])
	}
	if regenerated[3].ID == messages[3].ID {
		t.Fatalf("expected a fresh assistant message")
	}
	for i := 0; i < 3; i++ {
		if regenerated[i].ID != messages[i].ID {
			t.Fatalf("prefix changed at %d: %+v", i, regenerated[i])
		}
	}
}

func TestRegenerateKeepsRenamedTitle(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	messages, err := a.SendMessage(context.Background(), user.ID, chat.ID, "Hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if _, err := a.RenameChat(user.ID, chat.ID, "Custom"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	// Regenerating the assistant turn truncates to one message and appends a
	// fresh reply; the title was derived once and stays renamed.
	if _, err := a.Regenerate(context.Background(), user.ID, chat.ID, messages[1].ID); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	got, err := a.GetChat(user.ID, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "Custom" {
		t.Fatalf("title clobbered by regenerate: got %q, want %q", got.Title, "Custom")
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
}

func TestRegenerateRejectsFirstAndUnknownTargets(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	messages, err := a.SendMessage(context.Background(), user.ID, chat.ID, "Hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if _, err := a.Regenerate(context.Background(), user.ID, chat.ID, messages[0].ID); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("first message target: %v", err)
	}
	if _, err := a.Regenerate(context.Background(), user.ID, chat.ID, "nope"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("unknown target: %v", err)
	}
	if _, err := a.Regenerate(context.Background(), user.ID, "missing", messages[1].ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat: %v", err)
	}
}

func TestDeleteAndRenameChat(t *testing.T) {
	a, _ := newTestApp(t, nil)
	user := signUpUser(t, a, "ada@example.com")
	chat, err := a.CreateChat(user.ID, "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	renamed, err := a.RenameChat(user.ID, chat.ID, "Trip planning")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "Trip planning" {
		t.Fatalf("unexpected title: %q", renamed.Title)
	}

	if _, err := a.DeleteChat(user.ID, chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.GetChat(user.ID, chat.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected chat gone, got %v", err)
	}
}
