package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// RunPlain is the line-based fallback for terminals where the full TUI is
// unwanted (CI, dumb terminals, transcripts). Same conversation, no screen
// takeover.
func RunPlain(client *Client) error {
	rl, err := readline.New("客户> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("电动车售后诊断 — 输入消息开始，Ctrl+D 退出")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		result, err := client.Send(context.Background(), text, nil)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			continue
		}
		fmt.Printf("售后> %s\n", result.Response)
	}
}
