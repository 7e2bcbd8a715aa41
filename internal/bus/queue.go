package bus

import (
	"context"
	"log/slog"
)

// maxContentLen is the longest reply attempted on the recovery path.
const maxContentLen = 1500

// Deliver sends r through s. When the send fails it falls back to
// progressively simpler messages so the conversation still hears back.
func Deliver(ctx context.Context, s Sender, r *Reply) error {
	err := s.Send(ctx, r)
	if err == nil {
		return nil
	}
	slog.Warn("send reply failed, attempting recovery", "thread", r.ThreadID, "err", err)
	return recoverSend(ctx, s, r, err)
}

func recoverSend(ctx context.Context, s Sender, original *Reply, originalErr error) error {
	// Strategy 1: drop the reply reference, the target message may be gone.
	if original.ReplyTo != "" {
		plain := &Reply{ThreadID: original.ThreadID, Content: original.Content}
		if err := s.Send(ctx, plain); err == nil {
			slog.Info("recovery: sent without reply reference", "thread", original.ThreadID)
			return nil
		}
	}

	// Strategy 2: retry with truncated content.
	if len([]rune(original.Content)) > maxContentLen {
		truncated := &Reply{
			ThreadID: original.ThreadID,
			Content:  string([]rune(original.Content)[:maxContentLen]) + "\n\n[message truncated]",
		}
		if err := s.Send(ctx, truncated); err == nil {
			slog.Info("recovery: sent truncated reply", "thread", original.ThreadID)
			return nil
		}
	}

	// Strategy 3: a brief notice so the user knows something went wrong.
	fallback := &Reply{
		ThreadID: original.ThreadID,
		Content:  "Sorry, I couldn't deliver my response. Please try again.",
	}
	if err := s.Send(ctx, fallback); err != nil {
		slog.Error("recovery: all strategies failed", "thread", original.ThreadID, "err", err, "reply", original.Content)
		return originalErr
	}
	return nil
}
