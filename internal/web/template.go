package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pir-sensor/internal/status"
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
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Local().Format("15:04:05")
	},
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
	"percent": func(f float64) string {
		return fmt.Sprintf("%.1f%%", f*100)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>PIR Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.high { color: green; font-weight: bold; }
.low { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>PIR Sensor</h1>

<h2>Sensor</h2>
<table>
<tr><th>Level</th><td class="{{.LevelClass}}">{{.LevelText}}</td></tr>
{{if .Ready}}<tr><th>Since</th><td>{{clock .Since}}</td></tr>{{end}}
<tr><th>Last motion</th><td>{{clock .LastMotion}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}warming up{{end}}</td></tr>
</table>

{{with .LastSummary}}<h2>Last Summary ({{clock .Timestamp}})</h2>
<table>
<tr><th>HIGH</th><td>{{seconds .High}} ({{percent .DutyCycle}})</td></tr>
<tr><th>LOW</th><td>{{seconds .Low}}</td></tr>
</table>{{end}}

<h2>Event Counts</h2>
<table>
<tr><th>Motion</th><td>{{.Counts.Motion}}</td></tr>
<tr><th>Suppressed (cooldown)</th><td>{{.Counts.Suppressed}}</td></tr>
<tr><th>To HIGH</th><td>{{.Counts.High}}</td></tr>
<tr><th>To LOW</th><td>{{.Counts.Low}}</td></tr>
<tr><th>Summaries</th><td>{{.Counts.Summaries}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Pin</th><td>GPIO{{.Config.Pin}} ({{.Config.Backend}})</td></tr>
<tr><th>Sample</th><td>{{.Config.SampleMs}}ms</td></tr>
<tr><th>Min HIGH</th><td>{{.Config.MinHighMs}}ms</td></tr>
<tr><th>Cooldown</th><td>{{.Config.CooldownMs}}ms</td></tr>
<tr><th>Summary</th><td>{{.Config.SummaryMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		LevelText  string
		LevelClass string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		LevelText:  "UNKNOWN",
		LevelClass: "unknown",
	}
	if snap.Ready && snap.Level != "" {
		data.LevelText = string(snap.Level)
		if snap.Level == "HIGH" {
			data.LevelClass = "high"
		} else {
			data.LevelClass = "low"
		}
	}
	indexTmpl.Execute(w, data)
}
