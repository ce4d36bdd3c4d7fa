// events.go processes whatsmeow events and converts incoming WhatsApp
// messages into the unified IncomingMessage type.
package whatsapp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected()

	case *events.Disconnected:
		w.handleDisconnected()

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("whatsapp stream replaced, another device connected")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp logged out, session invalidated", "reason", evt.Reason.String())

	case *events.KeepAliveTimeout:
		w.errorCount.Add(1)
		// Half-open connections look connected but are dead; force a
		// reconnect after repeated keepalive failures.
		if evt.ErrorCount >= 3 && w.connected.Load() {
			w.logger.Error("whatsapp keep-alive failed repeatedly, forcing reconnect", "error_count", evt.ErrorCount)
			w.connected.Store(false)
			go w.attemptReconnect()
		}

	case *events.KeepAliveRestored:
		w.errorCount.Store(0)

	case *events.ConnectFailure:
		w.connected.Store(false)
		w.logger.Error("whatsapp connect failure", "reason", evt.Reason.String(), "message", evt.Message)
		if evt.PermanentDisconnectDescription() == "" && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.PairSuccess:
		w.logger.Info("whatsapp device paired", "jid", evt.ID, "platform", evt.Platform)
	}
}

func (w *WhatsApp) handleConnected() {
	wasDown := !w.connected.Swap(true)
	w.errorCount.Store(0)
	hadDropped := w.reconnectAttempts.Swap(0) > 0
	w.logger.Info("whatsapp connected", "jid", w.clientJID())
	if wasDown && hadDropped && w.onReconnect != nil {
		w.onReconnect()
	}
}

func (w *WhatsApp) handleDisconnected() {
	wasConnected := w.connected.Swap(false)
	w.logger.Warn("whatsapp disconnected", "was_connected", wasConnected)
	// whatsmeow's auto-reconnect usually recovers on its own; the manual
	// loop is the fallback for states it gives up on.
	if wasConnected && w.ctx.Err() == nil && !w.client.EnableAutoReconnect {
		go w.attemptReconnect()
	}
}

// handleMessageEvt converts an incoming message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	// WhatsApp may report senders as LID (linked identity) instead of
	// phone JIDs; resolve to the phone JID so access policies match.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.String()
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			resolvedSender = altJID.String()
		}
	}
	chatJID := evt.Info.Chat
	resolvedChat := chatJID.String()
	if chatJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, chatJID); err == nil && !altJID.IsEmpty() {
			resolvedChat = altJID.String()
		}
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      resolvedSender,
		FromName:  evt.Info.PushName,
		ChatID:    resolvedChat,
		IsGroup:   evt.Info.IsGroup,
		Timestamp: evt.Info.Timestamp,
	}

	w.extractMessageContent(evt.Message, msg)
	w.extractQuotedMessage(evt.Message, msg)
	w.lastMsg.Store(time.Now())
	w.emitMessage(msg)
}

// extractMessageContent extracts text or media from a message proto,
// downloading media into the spool directory.
func (w *WhatsApp) extractMessageContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}

	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return
	}

	if img := waMsg.ImageMessage; img != nil {
		msg.Type = channels.MessageImage
		msg.Content = img.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:     channels.MessageImage,
			MimeType: img.GetMimetype(),
			FileSize: img.GetFileLength(),
			Caption:  img.GetCaption(),
		}
		w.spoolMedia(msg, img, "jpg")
		return
	}
	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			MimeType: audio.GetMimetype(),
			FileSize: audio.GetFileLength(),
			Duration: audio.GetSeconds(),
		}
		w.spoolMedia(msg, audio, "ogg")
		return
	}
	if video := waMsg.VideoMessage; video != nil {
		msg.Type = channels.MessageVideo
		msg.Content = video.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:     channels.MessageVideo,
			MimeType: video.GetMimetype(),
			FileSize: video.GetFileLength(),
			Caption:  video.GetCaption(),
			Duration: video.GetSeconds(),
		}
		w.spoolMedia(msg, video, "mp4")
		return
	}
	if doc := waMsg.DocumentMessage; doc != nil {
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			MimeType: doc.GetMimetype(),
			Filename: doc.GetFileName(),
			FileSize: doc.GetFileLength(),
			Caption:  doc.GetCaption(),
		}
		w.spoolMedia(msg, doc, "bin")
		return
	}

	msg.Type = channels.MessageText
	msg.Content = "[unsupported message type]"
}

// spoolMedia downloads encrypted media and leaves the local path in
// Metadata["local_path"].
func (w *WhatsApp) spoolMedia(msg *channels.IncomingMessage, dl whatsmeow.DownloadableMessage, ext string) {
	if msg.Media != nil && msg.Media.FileSize > uint64(w.cfg.MaxMediaSizeMB)<<20 {
		w.logger.Warn("whatsapp media too large to download", "msg_id", msg.ID, "size", msg.Media.FileSize)
		return
	}
	data, err := w.client.Download(w.ctx, dl)
	if err != nil {
		w.logger.Warn("whatsapp media download failed", "msg_id", msg.ID, "error", err)
		return
	}
	name := msg.ID
	if msg.Media != nil && msg.Media.Filename != "" {
		name = msg.Media.Filename
	} else {
		name = fmt.Sprintf("%s.%s", name, ext)
	}
	dest := filepath.Join(w.cfg.MediaDir, fmt.Sprintf("wa-%d-%s", time.Now().UnixNano(), filepath.Base(name)))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		w.logger.Warn("whatsapp media spool failed", "msg_id", msg.ID, "error", err)
		return
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["local_path"] = dest
}

// extractQuotedMessage extracts the reply target from any message type that
// supports quoting.
func (w *WhatsApp) extractQuotedMessage(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}
	var ctxInfo *waE2E.ContextInfo
	switch {
	case waMsg.ExtendedTextMessage != nil:
		ctxInfo = waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		ctxInfo = waMsg.ImageMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		ctxInfo = waMsg.AudioMessage.GetContextInfo()
	case waMsg.VideoMessage != nil:
		ctxInfo = waMsg.VideoMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		ctxInfo = waMsg.DocumentMessage.GetContextInfo()
	}
	if ctxInfo != nil && ctxInfo.StanzaID != nil {
		msg.ReplyTo = ctxInfo.GetStanzaID()
	}
}
