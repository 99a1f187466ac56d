package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/carechat/internal/api"
)

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func printView(v api.ViewDoc, withMessages bool) error {
	if jsonOutput {
		if err := outputJSON(v); err != nil {
			return err
		}
	} else {
		printConversations(v)
		if withMessages && v.CurrentConversation != nil {
			fmt.Println()
			printMessages(v)
		}
	}
	if v.Error != "" {
		return errors.New(v.Error)
	}
	return nil
}

func printConversations(v api.ViewDoc) {
	conn := "offline (polling)"
	if v.IsConnected {
		conn = "online"
	}
	fmt.Printf("%d conversation(s), %d unread, %s\n", len(v.Conversations), v.UnreadCount, conn)
	for _, c := range v.Conversations {
		marker := " "
		if v.CurrentConversation != nil && v.CurrentConversation.ID == c.ID {
			marker = ">"
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d]", c.UnreadCount)
		}
		status := ""
		if c.Status == "closed" {
			status = " (closed)"
		}
		fmt.Printf("%s %-36s  %-24s %s%s%s\n", marker, c.ID,
			truncate(valueOrDefault(c.CounterpartyName, c.CounterpartyID), 24),
			truncate(c.LastMessage, 40), unread, status)
	}
}

func printMessages(v api.ViewDoc) {
	c := v.CurrentConversation
	fmt.Printf("== %s", valueOrDefault(c.CounterpartyName, c.CounterpartyID))
	if c.Subject != "" {
		fmt.Printf(" | %s", c.Subject)
	}
	fmt.Println()
	for _, m := range v.Messages {
		from := "them"
		if m.SenderID != c.CounterpartyID {
			from = "you"
		}
		read := ""
		if from == "you" && m.Read {
			read = " ✓"
		}
		fmt.Printf("[%s] %-4s %s%s\n", m.CreatedAt.Local().Format(time.DateTime), from, m.Body, read)
	}
	if who, ok := v.Typing[c.ID]; ok {
		fmt.Printf("(%s is typing...)\n", who)
	}
}

func summaryLine(v api.ViewDoc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v%d %s conversations=%d unread=%d", v.Version, v.State, len(v.Conversations), v.UnreadCount)
	if v.IsConnected {
		b.WriteString(" online")
	} else {
		b.WriteString(" offline")
	}
	if v.CurrentConversation != nil {
		fmt.Fprintf(&b, " open=%s messages=%d", v.CurrentConversation.ID, len(v.Messages))
	}
	if v.IsLoading {
		b.WriteString(" loading")
	}
	if v.Error != "" {
		fmt.Fprintf(&b, " error=%q", v.Error)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
