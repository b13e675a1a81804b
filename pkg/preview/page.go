// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package preview

import (
	"html/template"
	"io"
	"net/url"

	"digital-signer/pkg/signing"
)

const defaultPDFJSURL = "https://cdnjs.cloudflare.com/ajax/libs/pdf.js/3.11.174/pdf.min.js"

type pageData struct {
	Title    string
	Banner   string
	PDFURL   string
	WSURL    string
	ClickURL string
	PDFJSURL string
	Scale    float64
}

func renderPage(w io.Writer, s *Surface, pdfjsURL string) error {
	if pdfjsURL == "" {
		pdfjsURL = defaultPDFJSURL
	}
	q := url.Values{}
	q.Set("token", s.token)
	data := pageData{
		Title:    "Select Signature Location - " + s.doc.Name,
		PDFURL:   s.id + "/pdf?" + q.Encode(),
		WSURL:    s.id + "/ws?" + q.Encode(),
		ClickURL: s.id + "/click?" + q.Encode(),
		PDFJSURL: pdfjsURL,
		Scale:    s.Scale(),
	}
	if s.mode == signing.ModeUSBToken {
		data.Banner = signing.USBBanner
	}
	return pageTemplate.Execute(w, data)
}

var pageTemplate = template.Must(template.New("preview").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body { margin:0; font-family: "Segoe UI", Tahoma, sans-serif; background:#f5f7fb; color:#1f2937; }
.wrap { max-width: 1100px; margin: 0 auto; padding: 16px; }
.banner { background:#e0ecff; border-left:4px solid #0b5fff; padding:10px 14px; margin-bottom:12px; }
.status { min-height:1.5em; margin:8px 0 12px; font-weight:600; }
.page { display:block; margin:0 auto 16px; box-shadow:0 1px 4px rgba(0,0,0,.2); cursor:crosshair; background:#fff; }
</style>
</head>
<body>
<div class="wrap">
<h3>Click on the document where the signature should go</h3>
{{if .Banner}}<div class="banner">{{.Banner}}</div>{{end}}
<div id="status" class="status"></div>
<div id="pages"></div>
</div>
<script src="{{.PDFJSURL}}"></script>
<script>
(function () {
  const scale = {{.Scale}};
  const status = document.getElementById("status");
  let socket = null;

  function show(reply) {
    status.textContent = reply.ok ? reply.message : ("Error: " + reply.error);
  }

  function send(ev) {
    const body = JSON.stringify(ev);
    if (socket && socket.readyState === WebSocket.OPEN) {
      socket.send(body);
      return;
    }
    fetch({{.ClickURL}}, { method: "POST", headers: { "Content-Type": "application/json" }, body: body })
      .then(function (r) { return r.json(); })
      .then(show)
      .catch(function (e) { status.textContent = "Error: " + e; });
  }

  try {
    const wsURL = new URL({{.WSURL}}, window.location.href);
    wsURL.protocol = wsURL.protocol === "https:" ? "wss:" : "ws:";
    socket = new WebSocket(wsURL.toString());
    socket.onmessage = function (msg) { show(JSON.parse(msg.data)); };
  } catch (e) {
    socket = null;
  }

  pdfjsLib.getDocument({{.PDFURL}}).promise.then(function (pdf) {
    const container = document.getElementById("pages");
    for (let n = 1; n <= pdf.numPages; n++) {
      const canvas = document.createElement("canvas");
      canvas.className = "page";
      container.appendChild(canvas);
      pdf.getPage(n).then(function (page) {
        const viewport = page.getViewport({ scale: scale });
        canvas.width = viewport.width;
        canvas.height = viewport.height;
        page.render({ canvasContext: canvas.getContext("2d"), viewport: viewport });
        canvas.addEventListener("click", function (e) {
          const rect = canvas.getBoundingClientRect();
          send({
            type: "click",
            page: n,
            x: e.clientX - rect.left,
            y: e.clientY - rect.top,
            height: rect.height
          });
        });
      });
    }
  });
})();
</script>
</body>
</html>
`))
