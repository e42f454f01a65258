package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Digest renders a grouped text summary of notifications since the given
// time. Apps with the most notifications come first; each app shows up to
// three entries.
func Digest(ctx context.Context, s Store, since time.Time) (string, error) {
	if since.IsZero() {
		since = time.Now().UTC().Add(-time.Hour)
	}

	notifs, err := s.GetRecent(ctx, Filters{Limit: 500, Since: since})
	if err != nil {
		return "", err
	}
	if len(notifs) == 0 {
		return fmt.Sprintf("No notifications since %s.", since.Format("15:04")), nil
	}

	byApp := map[string][]Notification{}
	for _, n := range notifs {
		app := n.DisplayApp()
		byApp[app] = append(byApp[app], n)
	}

	apps := make([]string, 0, len(byApp))
	for app := range byApp {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if len(byApp[apps[i]]) != len(byApp[apps[j]]) {
			return len(byApp[apps[i]]) > len(byApp[apps[j]])
		}
		return apps[i] < apps[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Notification digest (since %s)\n", since.Format("15:04"))
	fmt.Fprintf(&b, "Total: %d notifications from %d apps\n\n", len(notifs), len(byApp))

	for _, app := range apps {
		group := byApp[app]
		fmt.Fprintf(&b, "%s (%d notifications)\n", app, len(group))

		shown := group
		if len(shown) > 3 {
			shown = shown[:3]
		}
		for _, n := range shown {
			preview := "  - " + n.Title
			if n.Sender != "" {
				preview = "  - " + n.Sender + ": " + n.Title
			}
			if len(preview) > 80 {
				preview = preview[:77] + "..."
			}
			b.WriteString(preview)
			b.WriteString("\n")
		}
		if len(group) > 3 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(group)-3)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
