package exec

import (
	"bufio"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/specwing/models"
)

// fileFencePrefix opens a proposed file change in assistant output:
//
//	```file:path/to/target.go
//	<full new content>
//	```
const fileFencePrefix = "```file:"

// ParseFileChanges extracts proposed file changes from assistant output.
// Every block becomes a pending modify change carrying the full new content;
// the applier creates the target when it does not exist yet. Unterminated
// blocks are dropped.
func ParseFileChanges(messageID, content string) []models.FileChange {
	var changes []models.FileChange
	now := time.Now().UTC()

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		inBlock bool
		path    string
		body    []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !inBlock {
			if rest, ok := strings.CutPrefix(line, fileFencePrefix); ok {
				p := strings.TrimSpace(rest)
				if p != "" {
					inBlock = true
					path = p
					body = body[:0]
				}
			}
			continue
		}
		if strings.TrimSpace(line) == "```" {
			changes = append(changes, models.FileChange{
				ID:         uuid.NewString(),
				MessageID:  messageID,
				FilePath:   path,
				Kind:       models.ChangeModify,
				NewContent: strings.Join(body, "\n"),
				Status:     models.ChangePending,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			inBlock = false
			continue
		}
		body = append(body, line)
	}
	return changes
}
