// Package mail は確認メールの送信を提供する。
// Mailjet API経由で送信し、テナント作成のテキストはHTMLに埋め込む前に
// サニタイズする。APIキー未設定の環境では送信をスキップする。
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	mailjet "github.com/mailjet/mailjet-apiv3-go/v3"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/fanlink/internal/capture"
)

// mailjetAPI はMailjetクライアントの送信操作を抽象化する。テスト用。
type mailjetAPI interface {
	SendMailV31(data *mailjet.MessagesV31, options ...mailjet.RequestOptions) (*mailjet.ResultsV31, error)
}

// Sender はMailjet経由の確認メール送信を実装する。
type Sender struct {
	client    mailjetAPI
	sanitizer *bluemonday.Policy
	sender    string
	logger    *slog.Logger
}

var _ capture.EmailSender = (*Sender)(nil)

// NewSender はSenderの新しいインスタンスを生成する。
// publicKeyまたはprivateKeyが空の場合、送信は何もせず成功する
// （ローカル開発・テスト環境向け）。
func NewSender(publicKey, privateKey, senderAddress string, logger *slog.Logger) *Sender {
	s := &Sender{
		// StrictPolicyは全タグを除去し、テキストのみを残す。
		// テナント名やリリースタイトルはHTML文脈に埋め込むため必須。
		sanitizer: bluemonday.StrictPolicy(),
		sender:    senderAddress,
		logger:    logger,
	}
	if publicKey != "" && privateKey != "" {
		s.client = mailjet.NewMailjetClient(publicKey, privateKey)
	}
	return s
}

// SendConfirmation はダブルオプトインの確認メールを送信する。
func (s *Sender) SendConfirmation(ctx context.Context, email capture.ConfirmationEmail) error {
	if s.client == nil {
		s.logger.Info("メール設定が未構成のため確認メールをスキップします",
			slog.String("to", email.To),
		)
		return nil
	}

	tenantName := s.sanitizer.Sanitize(email.TenantName)
	releaseTitle := s.sanitizer.Sanitize(email.ReleaseTitle)

	subject := fmt.Sprintf("%s の購読を確認してください", tenantName)
	textPart := fmt.Sprintf(
		"%s の「%s」の登録を受け付けました。\n以下のリンクを開いて購読を確定してください:\n%s\n",
		tenantName, releaseTitle, email.ConfirmURL,
	)
	htmlPart := fmt.Sprintf(
		`<p>%s の「%s」の登録を受け付けました。</p><p><a href="%s">購読を確定する</a></p>`,
		tenantName, releaseTitle, html.EscapeString(email.ConfirmURL),
	)

	messages := mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: s.sender},
		To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: email.To, Name: email.ContactName}},
		Subject:  subject,
		TextPart: textPart,
		HTMLPart: htmlPart,
	}}}

	if _, err := s.client.SendMailV31(&messages); err != nil {
		return fmt.Errorf("メールの送信に失敗しました: %w", err)
	}

	s.logger.Info("確認メールを送信しました",
		slog.String("to", email.To),
	)
	return nil
}
