package templates

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/aouyang1/framectl/api/models"
)

func imageURL(img models.Image) string {
	return "/ui/images/" + url.PathEscape(img.ID)
}

func removeURL(img models.Image) string {
	return fmt.Sprintf("/ui/events/queue/%s/remove", url.PathEscape(img.ID))
}

// objectPosition maps an offset in [-1, 1] onto a CSS object-position
// percentage, 0 being centered.
func objectPosition(img models.Image) templ.SafeCSS {
	return templ.SafeCSS(fmt.Sprintf("object-position: %s%% %s%%;", percent(img.OffsetX), percent(img.OffsetY)))
}

func percent(offset float64) string {
	return strconv.FormatFloat(50+offset*50, 'f', 2, 64)
}

// FormatTimeAgo renders how long before now t was.
func FormatTimeAgo(now, t time.Time) string {
	elapsed := now.Sub(t)
	switch {
	case elapsed < time.Minute:
		return "Just now"
	case elapsed < time.Hour:
		return plural(int(elapsed/time.Minute), "min", "mins") + " ago"
	case elapsed < 24*time.Hour:
		return plural(int(elapsed/time.Hour), "hour", "hours") + " ago"
	default:
		return plural(int(elapsed/(24*time.Hour)), "day", "days") + " ago"
	}
}

// CountLabel phrases n items with the right noun form, e.g. "1 image".
func CountLabel(n int, singular, pluralForm string) string {
	return plural(n, singular, pluralForm)
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}
