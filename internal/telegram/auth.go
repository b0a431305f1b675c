package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"rsc.io/qr"
)

// PromptFunc asks the user for one line of input.
type PromptFunc func(prompt string) (string, error)

// LoginWithCode runs the interactive phone-number login: request a code,
// sign in with it, and complete the 2FA password step when the account
// has one. A no-op when the stored session is already authorized.
func (s *Service) LoginWithCode(ctx context.Context, phone string, ask PromptFunc) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("telegram phone number is required")
	}

	return s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		status, err := client.Auth().Status(runCtx)
		if err != nil {
			return err
		}
		if status.Authorized {
			return nil
		}

		sentCode, err := client.Auth().SendCode(runCtx, phone, auth.SendCodeOptions{})
		if err != nil {
			return fmt.Errorf("send login code: %w", err)
		}
		sent, ok := sentCode.(*tg.AuthSentCode)
		if !ok {
			return fmt.Errorf("unexpected send code result type: %T", sentCode)
		}

		code, err := ask("Login code: ")
		if err != nil {
			return err
		}
		_, signInErr := client.Auth().SignIn(runCtx, phone, strings.TrimSpace(code), sent.PhoneCodeHash)
		if errors.Is(signInErr, auth.ErrPasswordAuthNeeded) {
			password, askErr := ask("2FA password: ")
			if askErr != nil {
				return askErr
			}
			if _, pwdErr := client.Auth().Password(runCtx, strings.TrimSpace(password)); pwdErr != nil {
				return pwdErr
			}
			return nil
		}
		return signInErr
	})
}

// LoginQR runs the QR login flow, rendering each login token as an
// ASCII QR code on out. Scan it with a phone that is already signed in.
func (s *Service) LoginQR(ctx context.Context, out io.Writer, ask PromptFunc) error {
	dispatcher := tg.NewUpdateDispatcher()
	loggedIn := qrlogin.OnLoginToken(dispatcher)

	return s.withClientUsingOptions(ctx, tdtelegram.Options{
		SessionStorage: &fileSessionStorage{path: s.sessionPath},
		Logger:         s.logger,
		UpdateHandler:  dispatcher,
	}, func(runCtx context.Context, client *tdtelegram.Client) error {
		status, err := client.Auth().Status(runCtx)
		if err != nil {
			return err
		}
		if status.Authorized {
			return nil
		}

		_, authErr := client.QR().Auth(runCtx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			return renderQR(out, token.URL())
		})
		if authErr != nil {
			if !isPasswordNeeded(authErr) {
				return authErr
			}
			password, askErr := ask("2FA password: ")
			if askErr != nil {
				return askErr
			}
			if _, pwdErr := client.Auth().Password(runCtx, strings.TrimSpace(password)); pwdErr != nil {
				return pwdErr
			}
		}
		return nil
	})
}

func renderQR(out io.Writer, url string) error {
	code, err := qr.Encode(url, qr.M)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("\nScan with the Telegram app (Settings > Devices > Link Desktop Device):\n\n")
	for y := -1; y <= code.Size; y++ {
		for x := -1; x <= code.Size; x++ {
			if x >= 0 && x < code.Size && y >= 0 && y < code.Size && code.Black(x, y) {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		b.WriteByte('\n')
	}
	_, err = io.WriteString(out, b.String())
	return err
}

func isPasswordNeeded(err error) bool {
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return true
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return rpcErr.IsOneOf("SESSION_PASSWORD_NEEDED")
	}
	return false
}
