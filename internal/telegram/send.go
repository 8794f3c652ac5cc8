package telegram

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// Outbound Telegram delivery speaks MTProto directly with the auth key
// recovered from the postbox. Each send builds an in-memory session from
// one candidate key, connects, verifies the account is authorized, and
// delivers exactly one message. No retries beyond trying the next DC key
// when a connection turns out to be unauthorized.

type sendFunc func(ctx context.Context, sessions []Session, to platform.Address, body string) error

func mtprotoSend(ctx context.Context, sessions []Session, to platform.Address, body string) error {
	var lastErr error
	for _, sess := range sessions {
		err := sendViaSession(ctx, sess, to, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isUnauthorized(err) {
			return err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("no authorized session: %w", lastErr)
	}
	return fmt.Errorf("no sessions to try")
}

type unauthorizedError struct{ dc int }

func (e *unauthorizedError) Error() string {
	return fmt.Sprintf("auth key for DC %d is not authorized", e.dc)
}

func isUnauthorized(err error) bool {
	var ue *unauthorizedError
	return errors.As(err, &ue)
}

func sendViaSession(ctx context.Context, sess Session, to platform.Address, body string) error {
	storage := new(session.StorageMemory)
	loader := session.Loader{Storage: storage}

	sum := sha1.Sum(sess.AuthKey)
	data := &session.Data{
		DC:        sess.DC,
		Addr:      sess.Addr + ":443",
		AuthKey:   sess.AuthKey,
		AuthKeyID: sum[12:20],
	}
	if err := loader.Save(ctx, data); err != nil {
		return fmt.Errorf("prepare session: %w", err)
	}

	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
	})
	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return &unauthorizedError{dc: sess.DC}
		}

		sender := message.NewSender(client.API())
		var builder *message.RequestBuilder
		switch to.Kind {
		case platform.AddressPhone:
			builder = sender.ResolvePhone(to.Value)
		case platform.AddressUsername:
			builder = sender.ResolveDomain(to.Value)
		default:
			return fmt.Errorf("address kind %q cannot be sent via Telegram", to.Kind)
		}
		if _, err := builder.Text(ctx, body); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		return nil
	})
}
