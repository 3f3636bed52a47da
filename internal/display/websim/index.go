package websim

import (
	"net/http"
)

func (d *Device) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Room display simulator</title>
<style>
body { font-family: monospace; background: #ddd; }
#panel { width: 250px; height: 122px; background: #fff; border: 8px solid #333; overflow: hidden; font-size: 10px; }
#panel h1 { margin: 0; padding: 2px; font-size: 13px; text-align: center; background: #000; color: #fff; }
#panel p { margin: 0 4px; white-space: pre; }
#panel.sleep { opacity: .4; }
#meta { margin-top: 6px; color: #555; }
</style>
</head>
<body>
<div id="panel"><h1>waiting...</h1></div>
<div id="meta"></div>
<script>
const panel = document.getElementById("panel");
const meta = document.getElementById("meta");
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    panel.classList.toggle("sleep", msg.type === "sleep");
    if (msg.type === "clear") { panel.innerHTML = ""; return; }
    if (msg.type !== "frame") return;
    const f = msg.frame;
    panel.innerHTML = "";
    const h = document.createElement("h1");
    h.textContent = f.title;
    panel.appendChild(h);
    for (const line of f.lines || []) {
      const p = document.createElement("p");
      p.textContent = line;
      panel.appendChild(p);
    }
    meta.textContent = f.view + " | " + f.connection + " | " + f.rendered_at;
  };
  ws.onclose = () => setTimeout(connect, 2000);
}
connect();
</script>
</body>
</html>
`
