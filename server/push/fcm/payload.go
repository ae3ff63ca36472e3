package fcm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fcm "firebase.google.com/go/messaging"

	"github.com/tinode/pairchat/server/push"
	t "github.com/tinode/pairchat/server/store/types"
)

func payloadToData(pl *push.Payload) (map[string]string, error) {
	if pl == nil {
		return nil, errors.New("empty push payload")
	}
	if pl.What != push.ActMsg {
		return nil, errors.New("unknown push type " + pl.What)
	}
	data := make(map[string]string)
	data["what"] = pl.What
	data["channel"] = string(pl.Channel)
	data["ts"] = pl.Timestamp.Format(time.RFC3339Nano)
	// Must use "xfrom" because "from" is a reserved word.
	data["xfrom"] = string(pl.From)
	data["seq"] = strconv.Itoa(pl.SeqId)
	if pl.Id != "" {
		data["id"] = pl.Id
	}
	data["content"] = push.Preview(pl.Content, push.MaxPayloadLength)
	return data, nil
}

// topicName converts a user token to an FCM topic name. Topics are limited to
// [a-zA-Z0-9-_.~%]+, anything else is percent-escaped.
func topicName(prefix string, user t.UserToken) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, b := range []byte(user) {
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}

// prepareMessages creates one message per recipient.
func prepareMessages(rcpt *push.Receipt, config *configType) []*fcm.Message {
	data, err := payloadToData(&rcpt.Payload)
	if err != nil {
		return nil
	}

	ttl := time.Duration(config.TimeToLive) * time.Second
	title := config.Title
	if title == "" {
		title = "New message"
	}

	var messages []*fcm.Message
	for _, to := range rcpt.To {
		msg := &fcm.Message{
			Topic: topicName(config.TopicPrefix, to),
			Data:  data,
			Notification: &fcm.Notification{
				Title: title,
				Body:  data["content"],
			},
			Android: &fcm.AndroidConfig{
				CollapseKey: string(rcpt.Payload.Channel),
				Priority:    "high",
				TTL:         &ttl,
				Notification: &fcm.AndroidNotification{
					Icon:  config.Icon,
					Color: config.IconColor,
					Tag:   string(rcpt.Payload.Channel),
				},
			},
			APNS: &fcm.APNSConfig{
				Payload: &fcm.APNSPayload{
					Aps: &fcm.Aps{
						ContentAvailable: true,
						MutableContent:   true,
						ThreadID:         string(rcpt.Payload.Channel),
					},
				},
			},
		}
		messages = append(messages, msg)
	}
	return messages
}
