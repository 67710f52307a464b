package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>E84 Load Port</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
form { display: inline; }
</style>
</head>
<body>
<h1>E84 Load Port</h1>

<h2>Handshake</h2>
<table>
<tr><th>Controller</th><td id="running" class="{{if .Controller.Running}}on{{else}}off{{end}}">{{if .Controller.Running}}running{{else}}stopped{{end}}</td></tr>
<tr><th>State</th><td id="state">{{stateOrUnknown (printf "%s" .Controller.State)}}</td></tr>
<tr><th>FOUP</th><td class="{{if .Controller.FoupPresent}}on{{else}}off{{end}}">{{if .Controller.FoupPresent}}present{{else}}absent{{end}}</td></tr>
<tr><th>Keys</th><td>{{range $i, $k := .Controller.Keys}}KEY_{{$i}}={{onOff $k}} {{end}}</td></tr>
{{if .LastWarning}}<tr><th>Last warning</th><td class="unknown">{{.LastWarning}}</td></tr>{{end}}
{{if .LastFault}}<tr><th>Last fault</th><td class="disconnected">{{.LastFault}}</td></tr>{{end}}
</table>
<form method="post" action="/control/start"><button>Start</button></form>
<form method="post" action="/control/stop"><button>Stop</button></form>
<form method="post" action="/control/reset"><button>Reset</button></form>

<h2>Inputs</h2>
<table>
{{range .Inputs}}<tr><th>{{.Name}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{onOff .On}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.RedisAddr}}<tr><th>Redis</th><td class="{{if .RedisConnected}}connected{{else}}disconnected{{end}}">{{.Config.RedisAddr}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Handshakes</th><td>{{.Counts.Handshakes}}</td></tr>
<tr><th>Transfers</th><td>{{.Counts.Transfers}}</td></tr>
<tr><th>Timeouts</th><td>{{.Counts.Timeouts}}</td></tr>
<tr><th>Interruptions</th><td>{{.Counts.Interruptions}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>Acquisitions</th><td>{{.Counts.AcquisitionStarts}} started, {{.Counts.AcquisitionStops}} stopped</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{if .Config.Simulated}}simulated{{else}}{{.Config.Chip}}{{end}}</td></tr>
<tr><th>Refresh</th><td>{{.Config.RefreshMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Timeouts</th><td>{{.Config.ShortTimeoutMs}}ms / {{.Config.LongTimeoutMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type inputRow struct {
	Name gpio.PinName
	On   bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	in := snap.Controller.Inputs
	rows := make([]inputRow, 0, len(in.Names()))
	for _, name := range in.Names() {
		rows = append(rows, inputRow{Name: name, On: in.On(name)})
	}
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Inputs []inputRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Inputs:   rows,
	}
	return indexTmpl.Execute(w, data)
}
