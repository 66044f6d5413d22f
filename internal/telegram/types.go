package telegram

import "fmt"

// Update 描述 Telegram webhook 投递的一次更新。
// 要么携带用户消息，要么携带成员关系变更事件。
type Update struct {
	UpdateID     int64             `json:"update_id"`
	Message      *Message          `json:"message,omitempty"`
	MyChatMember *ChatMemberUpdate `json:"my_chat_member,omitempty"`
}

// Message 描述一条入站聊天消息。
type Message struct {
	Chat Chat   `json:"chat"`
	From *User  `json:"from,omitempty"`
	Text string `json:"text,omitempty"`
}

// Chat 描述消息所在的会话。
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User 描述消息发送者。
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// ChatMemberUpdate 描述机器人在某个会话中的成员状态变化。
// 当前版本只接收不处理。
type ChatMemberUpdate struct {
	Chat          Chat `json:"chat"`
	From          User `json:"from"`
	NewChatMember struct {
		Status string `json:"status"`
		User   User   `json:"user"`
	} `json:"new_chat_member"`
}

// IsGroup 判断消息是否来自群聊。
func (m *Message) IsGroup() bool {
	if m == nil {
		return false
	}
	return m.Chat.Type == "group" || m.Chat.Type == "supergroup"
}

// SessionKey 返回消息对应的会话键：chatID 与 userID 的组合。
func (m *Message) SessionKey() string {
	if m == nil || m.From == nil {
		return ""
	}
	return fmt.Sprintf("%d_%d", m.Chat.ID, m.From.ID)
}
