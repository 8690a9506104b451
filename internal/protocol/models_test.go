package protocol

import (
	"strings"
	"testing"
)

func TestBuildMessageViewResolvesAuthorAndReplyPreview(t *testing.T) {
	profiles := map[string]Profile{
		"u1": {ID: "u1", Username: "ann"},
		"u2": {ID: "u2", Username: "bob"},
	}
	target := Message{ID: "m1", ChannelID: "c1", AuthorID: "u2", Content: "original"}
	replyID := "m1"
	m := Message{ID: "m2", ChannelID: "c1", AuthorID: "u1", Content: "reply", ReplyToID: &replyID}

	v := BuildMessageView(m, profiles, &target)
	if v.Author == nil || v.Author.Username != "ann" {
		t.Fatalf("Author = %+v, want ann", v.Author)
	}
	if v.ReplyTo == nil || v.ReplyTo.ID != "m1" || v.ReplyTo.Content != "original" {
		t.Fatalf("ReplyTo = %+v, want preview of m1", v.ReplyTo)
	}
	if v.ReplyTo.Author == nil || v.ReplyTo.Author.Username != "bob" {
		t.Errorf("ReplyTo.Author = %+v, want bob", v.ReplyTo.Author)
	}
}

func TestBuildMessageViewMissingProfileYieldsNilAuthor(t *testing.T) {
	m := Message{ID: "m1", ChannelID: "c1", AuthorID: "ghost", Content: "hi"}
	v := BuildMessageView(m, nil, nil)
	if v.Author != nil {
		t.Errorf("Author = %+v, want nil for an uncached profile", v.Author)
	}
	if v.ReplyTo != nil {
		t.Errorf("ReplyTo = %+v, want nil without a reply target", v.ReplyTo)
	}
}

func TestBuildMessageViewTrimsLongReplyPreview(t *testing.T) {
	long := strings.Repeat("x", replyPreviewMaxRunes*2)
	target := Message{ID: "m1", AuthorID: "u2", Content: long}
	m := Message{ID: "m2", AuthorID: "u1"}

	v := BuildMessageView(m, nil, &target)
	if v.ReplyTo == nil {
		t.Fatal("expected a reply preview")
	}
	if got := len([]rune(v.ReplyTo.Content)); got > replyPreviewMaxRunes+3 {
		t.Errorf("preview length = %d runes, want trimmed to %d", got, replyPreviewMaxRunes)
	}
	if !strings.HasSuffix(v.ReplyTo.Content, "...") {
		t.Errorf("trimmed preview should end with ellipsis, got %q", v.ReplyTo.Content)
	}
}
