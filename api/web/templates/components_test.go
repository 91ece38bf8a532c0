package templates

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func image(id string, age time.Duration) models.Image {
	return models.Image{ID: id, Filename: id + ".jpg", ImageURL: "/api/images/" + id, UploadedAt: now.Add(-age)}
}

func TestFormatTimeAgo(t *testing.T) {
	testData := map[string]struct {
		age      time.Duration
		expected string
	}{
		"seconds":    {30 * time.Second, "Just now"},
		"future":     {-time.Minute, "Just now"},
		"one min":    {time.Minute, "1 min ago"},
		"five mins":  {5 * time.Minute, "5 mins ago"},
		"one hour":   {time.Hour + 10*time.Minute, "1 hour ago"},
		"two hours":  {2 * time.Hour, "2 hours ago"},
		"one day":    {30 * time.Hour, "1 day ago"},
		"three days": {3 * 24 * time.Hour, "3 days ago"},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, FormatTimeAgo(now, now.Add(-td.age)))
		})
	}
}

func TestCountLabel(t *testing.T) {
	assert.Equal(t, "0 images queued", CountLabel(0, "image queued", "images queued"))
	assert.Equal(t, "1 image queued", CountLabel(1, "image queued", "images queued"))
	assert.Equal(t, "2 images queued", CountLabel(2, "image queued", "images queued"))
}

func TestObjectPosition(t *testing.T) {
	img := image("a", 0)
	assert.Equal(t, templ.SafeCSS("object-position: 50.00% 50.00%;"), objectPosition(img))

	img.OffsetX, img.OffsetY = -1, 0.5
	assert.Equal(t, templ.SafeCSS("object-position: 0.00% 75.00%;"), objectPosition(img))
}

func TestLiveImage(t *testing.T) {
	cur := image("cur", 5*time.Minute)
	cur.OffsetX = 1
	html := render(t, LiveImage(controller.View{State: models.State{Current: &cur}, Phase: controller.PhaseDragging}, now))

	assert.Contains(t, html, `data-image-id="cur"`)
	assert.Contains(t, html, `src="/ui/images/cur"`)
	assert.Contains(t, html, `style="object-position: 100.00% 50.00%;"`)
	assert.Contains(t, html, `data-phase="dragging"`)
	assert.Contains(t, html, "5 mins ago")
}

func TestLiveImageEmpty(t *testing.T) {
	html := render(t, LiveImage(controller.View{}, now))
	assert.Contains(t, html, "empty-state")
	assert.NotContains(t, html, "<img")
}

func TestQueueList(t *testing.T) {
	view := controller.View{
		State:    models.State{Queue: []models.Image{image("q1", time.Hour), image("q2", 0)}},
		Dragging: "q2",
	}
	html := render(t, QueueList(view, now))

	assert.Contains(t, html, "2 images queued")
	assert.Contains(t, html, `data-id="q1" data-index="0"`)
	assert.Contains(t, html, `class="card dragging" draggable="true" data-list="queue" data-id="q2"`)
	assert.Contains(t, html, `data-url="/ui/events/queue/q1/remove"`)
	assert.Contains(t, html, "1 hour ago")
	assert.NotContains(t, html, "empty-state")
}

func TestQueueListEmpty(t *testing.T) {
	html := render(t, QueueList(controller.View{}, now))
	assert.Contains(t, html, "0 images queued")
	assert.Contains(t, html, "Queue is empty")
}

func TestHistoryGrid(t *testing.T) {
	view := controller.View{State: models.State{History: []models.Image{image("h1", 72*time.Hour)}}}
	html := render(t, HistoryGrid(view, now))

	assert.Contains(t, html, "1 image shown")
	assert.Contains(t, html, `data-list="history" data-id="h1"`)
	assert.Contains(t, html, "3 days ago")
	assert.NotContains(t, html, "remove")
}

func TestEscapesFilenames(t *testing.T) {
	img := image("x", 0)
	img.Filename = `<script>alert("hi")</script>.png`
	html := render(t, HistoryGrid(controller.View{State: models.State{History: []models.Image{img}}}, now))

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestSettingsForm(t *testing.T) {
	view := controller.View{State: models.State{Settings: models.Settings{ChangeInterval: 90, LEDBrightness: 35, PowerOn: true, Saturation: 0.4}}}
	html := render(t, SettingsForm(view))

	assert.Contains(t, html, `name="change_interval" min="5" max="3600" value="90"`)
	assert.Contains(t, html, `<output data-readout="brightness">35%</output>`)
	assert.Contains(t, html, `<output data-readout="saturation">0.40</output>`)
	assert.Contains(t, html, `name="power_on" checked>`)
}

func TestSettingsFormUnchecked(t *testing.T) {
	html := render(t, SettingsForm(controller.View{State: models.State{Settings: models.Settings{PowerOn: false}}}))
	assert.Contains(t, html, `name="power_on">`)
	assert.NotContains(t, html, "checked")
}

func TestPageIncludesEveryFragment(t *testing.T) {
	cur := image("cur", 0)
	view := controller.View{State: models.State{Current: &cur, Settings: models.DefaultSettings()}, Version: 7}
	html := render(t, Page(view, now))

	for _, id := range []string{"fragment-live", "fragment-queue", "fragment-history", "fragment-settings"} {
		assert.Contains(t, html, `id="`+id+`"`)
	}
	assert.Contains(t, html, `data-version="7"`)
	assert.Contains(t, html, controller.DragPayloadType)
}

func TestFragment(t *testing.T) {
	for _, name := range []string{FragmentLive, FragmentQueue, FragmentHistory, FragmentSettings} {
		c, ok := Fragment(name, controller.View{}, now)
		require.True(t, ok, name)
		render(t, c)
	}
	_, ok := Fragment("bogus", controller.View{}, now)
	assert.False(t, ok)
}
