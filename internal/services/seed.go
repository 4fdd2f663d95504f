package services

import (
	"context"
	"errors"
	"fmt"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password"

// SeedDemo creates alice, bob and carol with a direct and a group conversation.
// Running it twice is harmless.
func SeedDemo(ctx context.Context, users *UserService, chat *ChatService) error {
	names := []struct{ username, fullName string }{
		{"alice", "Alice Nguyen"},
		{"bob", "Bob Tran"},
		{"carol", "Carol Le"},
	}
	var ids []string
	for _, n := range names {
		u, err := users.Register(ctx, RegisterRequest{Username: n.username, FullName: n.fullName, Password: DemoPassword})
		if errors.Is(err, ErrUserExists) {
			existing, _, err := users.store.UserByUsername(ctx, n.username)
			if err != nil {
				return err
			}
			ids = append(ids, existing.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", n.username, err)
		}
		ids = append(ids, u.ID)
	}

	if _, created, err := chat.GetOrCreateDirect(ctx, ids[0], ids[1]); err != nil {
		return fmt.Errorf("seed direct conversation: %w", err)
	} else if !created {
		return nil
	}
	if _, err := chat.CreateGroup(ctx, "Weekend trip", ids); err != nil {
		return fmt.Errorf("seed group conversation: %w", err)
	}
	return nil
}
