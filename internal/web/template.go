package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "none"
		}
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	},
	"remaining": func(d device.Snapshot, now time.Time) string {
		if d.ExpectedNext.IsZero() {
			return "n/a"
		}
		return fmt.Sprintf("%.1fs", d.Remaining(now))
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Shot Sensor</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.armed { color: green; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Shot Sensor</h1>

{{range .Devices}}
<h2><a href="/devices/{{.Name}}.json">{{.Name}}</a></h2>
<table>
<tr><th>Type</th><td>{{.Type}}</td></tr>
<tr><th>Timer / ADC</th><td>{{.Timer}} / {{.ADC}}</td></tr>
<tr><th>Last shot</th><td>{{stamp .LastShot}}</td></tr>
<tr><th>Expected next</th><td>{{stamp .ExpectedNext}} ({{remaining . $.Now}})</td></tr>
<tr><th>Shots</th><td>{{.ShotCount}}</td></tr>
<tr><th>Shot id</th><td>{{.ShotID}}</td></tr>
<tr><th>Trigger</th><td class="{{if .Armed}}armed{{else}}idle{{end}}">{{if .Armed}}armed{{else}}idle{{end}}</td></tr>
<tr><th>Last poll</th><td>{{stamp .LastPoll}} {{.LastOutcome}}</td></tr>
<tr><th>Log level</th><td>{{.LogLevel}}</td></tr>
</table>
{{else}}
<p>No devices.</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Polls</th><td>{{.Polls}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Tolerance</th><td>{{.Config.ToleranceMs}}ms</td></tr>
<tr><th>History limit</th><td>{{.Config.HistoryLimit}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
