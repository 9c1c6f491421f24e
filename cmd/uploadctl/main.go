// Command uploadctl uploads one video into a prompt or topic slot and follows it until the
// backend reports it ready or failed.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"lifestory-backend/internal/models"
	"lifestory-backend/internal/transport"
)

func main() {
	var (
		apiURL   = flag.String("api", envOr("LIFESTORY_API_URL", "http://localhost:8080"), "backend base URL")
		token    = flag.String("token", os.Getenv("LIFESTORY_TOKEN"), "bearer token")
		slotType = flag.String("slot-type", "PROMPT", "PROMPT or TOPIC")
		slotID   = flag.String("slot", "", "prompt or topic id")
	)
	flag.Parse()

	if flag.NArg() != 1 || *slotID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: uploadctl -token <jwt> -slot <id> [-slot-type PROMPT|TOPIC] <video-file>")
		os.Exit(2)
	}

	id, err := uuid.Parse(*slotID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid slot id: %v\n", err)
		os.Exit(2)
	}
	st := models.SlotType(strings.ToUpper(*slotType))
	if !st.Valid() {
		fmt.Fprintf(os.Stderr, "invalid slot type %q\n", *slotType)
		os.Exit(2)
	}

	file, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open video: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stat video: %v\n", err)
		os.Exit(1)
	}

	m := newUploadModel(uploadJob{
		api:      newAPIClient(*apiURL, *token),
		uploader: transport.NewUploader(nil),
		slotType: st,
		slotID:   id,
		file:     file,
		size:     info.Size(),
	})

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uploadctl: %v\n", err)
		os.Exit(1)
	}
	if fm, ok := final.(uploadModel); ok && fm.err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
