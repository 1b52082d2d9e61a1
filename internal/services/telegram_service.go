package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"membership-api/internal/models"
	"membership-api/pkg/logging"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// InviteValidityLayout is how invite link expiry is shown to users.
const InviteValidityLayout = "Jan 02, 2006 15:04 UTC"

// EntitlementIssuer grants channel access by minting a single-use invite link.
type EntitlementIssuer interface {
	IssueEntitlement(ctx context.Context) (link string, validUntil string, err error)
}

// Messenger delivers a plain text message to a chat.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// ChannelMembership removes a user from the paid channel.
type ChannelMembership interface {
	RemoveFromChannel(ctx context.Context, userID int64) error
}

// Gateway bundles a tenant with the clients that talk to its bot. Clients are
// nil when the bot could not be reached at startup.
type Gateway struct {
	Tenant    models.Tenant
	Issuer    EntitlementIssuer
	Messenger Messenger
	Channel   ChannelMembership
}

// Gateways indexes gateways by bot name. It is built once at startup and
// read concurrently afterwards.
type Gateways map[string]*Gateway

// Get returns the gateway for a bot, or nil.
func (g Gateways) Get(botName string) *Gateway {
	if g == nil {
		return nil
	}
	return g[botName]
}

// TelegramGateway talks to one tenant's bot.
type TelegramGateway struct {
	bot       *tgbotapi.BotAPI
	channelID int64
	inviteTTL time.Duration
	now       func() time.Time
}

// NewTelegramGateway connects to the Bot API with the tenant's token.
func NewTelegramGateway(token string, channelID int64, inviteTTL time.Duration) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}
	return &TelegramGateway{
		bot:       bot,
		channelID: channelID,
		inviteTTL: inviteTTL,
		now:       time.Now,
	}, nil
}

// IssueEntitlement creates an invite link limited to one join that expires
// after the configured TTL.
func (g *TelegramGateway) IssueEntitlement(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	expiresAt := g.now().UTC().Add(g.inviteTTL)
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: g.channelID},
		ExpireDate:  int(expiresAt.Unix()),
		MemberLimit: 1,
	}

	resp, err := g.bot.Request(cfg)
	if err != nil {
		return "", "", fmt.Errorf("failed to create invite link for channel %d: %w", g.channelID, err)
	}

	var invite tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &invite); err != nil {
		return "", "", fmt.Errorf("failed to decode invite link: %w", err)
	}
	if invite.InviteLink == "" {
		return "", "", fmt.Errorf("telegram returned an empty invite link for channel %d", g.channelID)
	}

	return invite.InviteLink, expiresAt.Format(InviteValidityLayout), nil
}

// SendMessage sends text to a chat with link previews disabled.
func (g *TelegramGateway) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

// RemoveFromChannel kicks a user out of the channel without leaving a
// permanent ban, so a later purchase can re-admit them.
func (g *TelegramGateway) RemoveFromChannel(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := tgbotapi.ChatMemberConfig{ChatID: g.channelID, UserID: userID}

	if _, err := g.bot.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
		return fmt.Errorf("failed to ban %d from channel %d: %w", userID, g.channelID, err)
	}
	if _, err := g.bot.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true}); err != nil {
		return fmt.Errorf("failed to unban %d from channel %d: %w", userID, g.channelID, err)
	}
	return nil
}

// BuildGateways connects every active tenant's bot. A tenant whose bot cannot
// be reached still gets a gateway so that non-Telegram notifiers can use its
// configuration.
func BuildGateways(tenants []models.Tenant, inviteTTL time.Duration) Gateways {
	gateways := make(Gateways, len(tenants))
	for _, tenant := range tenants {
		if !tenant.IsActive {
			continue
		}
		gw := &Gateway{Tenant: tenant}
		gateways[tenant.BotName] = gw

		if tenant.BotToken == "" {
			logging.Warnf("Tenant %s has no bot token, Telegram delivery disabled", tenant.BotName)
			continue
		}
		tg, err := NewTelegramGateway(tenant.BotToken, tenant.ChannelID, inviteTTL)
		if err != nil {
			logging.Errorf("Failed to connect bot for tenant %s: %v", tenant.BotName, err)
			continue
		}
		gw.Issuer = tg
		gw.Messenger = tg
		gw.Channel = tg
		logging.Infof("Connected bot for tenant %s", tenant.BotName)
	}
	return gateways
}
