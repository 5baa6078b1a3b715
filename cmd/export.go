package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/satriahrh/livecaption/domain/entities"
)

func runExport(sessionID, output string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if output == "" {
		return writeSession(os.Stdout, session)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := writeSession(f, session); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSession(w io.Writer, session *entities.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(session)
}
