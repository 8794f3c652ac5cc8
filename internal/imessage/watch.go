package imessage

import (
	"context"
	"fmt"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// Incremental read support for the watch command: ROWID is the watermark,
// since chat.db only ever appends message rows.

// LatestRowID returns the newest message ROWID, or 0 for an empty store.
func (s *Store) LatestRowID(ctx context.Context) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var rowID int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(ROWID), 0) FROM message").Scan(&rowID); err != nil {
		return 0, fmt.Errorf("latest rowid: %w", err)
	}
	return rowID, nil
}

// MessagesAfter returns displayable messages newer than the watermark in
// arrival order, plus the advanced watermark. Rows that render to nothing
// (reaction removals, payload-only rows) still advance it.
func (s *Store) MessagesAfter(ctx context.Context, after int64) ([]platform.Message, int64, error) {
	db, err := s.open()
	if err != nil {
		return nil, after, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT m.ROWID, m.date, COALESCE(m.is_from_me, 0), m.text, m.attributedBody,
		       COALESCE(h.id, ''), COALESCE(m.date_edited, 0),
		       COALESCE(m.associated_message_type, 0),
		       COALESCE(c.display_name, ''), c.chat_identifier
		FROM message m
		JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
		JOIN chat c ON cmj.chat_id = c.ROWID
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.ROWID > ?
		ORDER BY m.ROWID ASC
	`, after)
	if err != nil {
		return nil, after, fmt.Errorf("read new messages: %w", err)
	}
	defer rows.Close()

	var raws []rawMessage
	for rows.Next() {
		var r rawMessage
		if err := rows.Scan(&r.rowID, &r.date, &r.fromMe, &r.text, &r.body, &r.handle,
			&r.edited, &r.assocType, &r.chatName, &r.chatIdent); err != nil {
			return nil, after, fmt.Errorf("scan message: %w", err)
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return nil, after, err
	}

	attachments, err := s.attachmentLabels(ctx, db, raws)
	if err != nil {
		return nil, after, err
	}

	watermark := after
	var messages []platform.Message
	for _, r := range raws {
		if r.rowID > watermark {
			watermark = r.rowID
		}
		text, ok := s.renderBody(r.text, r.body, r.assocType, attachments[r.rowID])
		if !ok {
			continue
		}
		chatName := r.chatName
		if chatName == "" {
			chatName = s.handleLabel(r.chatIdent)
		}
		messages = append(messages, platform.Message{
			Platform:       platform.Messages,
			ChatIdentifier: r.chatIdent,
			ChatName:       chatName,
			Sender:         s.senderName(r.fromMe, r.handle),
			FromMe:         r.fromMe,
			Timestamp:      appleNanoToTime(r.date),
			Text:           text,
			Edited:         r.edited > 0,
		})
	}
	return messages, watermark, nil
}
