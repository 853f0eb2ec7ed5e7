package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const feedPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Live Feed · Fraud Pipeline</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>◉</text></svg>">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --allow: #22c55e; --review: #eab308; --block: #ef4444;
        }
        body {
            font-family: -apple-system, "Segoe UI", sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
        }
        .mono { font-family: "SFMono-Regular", Consolas, monospace; }
        .container { max-width: 900px; margin: 0 auto; padding: 0 24px; }
        header {
            border-bottom: 1px solid var(--border); padding: 16px 0;
            position: sticky; top: 0; background: var(--bg); z-index: 100;
        }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; font-size: 15px; color: var(--text); text-decoration: none; }

        .feed-header {
            padding: 32px 0 20px;
            display: flex; justify-content: space-between; align-items: flex-end;
            border-bottom: 1px solid var(--border);
        }
        .feed-title { font-size: 22px; font-weight: 600; margin-bottom: 4px; }
        .feed-desc { color: var(--text-secondary); }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 6px 12px; border-radius: 20px; font-size: 12px; color: var(--text-secondary);
        }
        .live-dot { width: 8px; height: 8px; background: var(--allow); border-radius: 50%; animation: pulse 2s ease-in-out infinite; }
        .live-dot.disconnected { background: var(--block); animation: none; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }

        .decision-list { padding: 0; }
        .decision {
            display: grid; grid-template-columns: 90px 1fr auto;
            gap: 16px; padding: 14px 0; border-bottom: 1px solid var(--border);
            align-items: center;
        }
        .decision.new { animation: slideIn 0.3s ease-out; }
        @keyframes slideIn { from { opacity: 0; transform: translateY(-8px); } to { opacity: 1; transform: translateY(0); } }

        .badge { text-align: center; padding: 4px 8px; border-radius: 4px; font-size: 11px; font-weight: 600; text-transform: uppercase; }
        .badge.ALLOW { background: rgba(34,197,94,0.15); color: var(--allow); }
        .badge.REVIEW { background: rgba(234,179,8,0.15); color: var(--review); }
        .badge.BLOCK { background: rgba(239,68,68,0.15); color: var(--block); }

        .decision-main .tx-id { font-size: 13px; color: var(--text); }
        .decision-main .reasons { color: var(--text-tertiary); font-size: 12px; margin-top: 2px; }

        .decision-right { text-align: right; }
        .decision-score { font-size: 16px; font-weight: 600; }
        .decision-time { font-size: 11px; color: var(--text-tertiary); margin-top: 2px; }

        .empty { text-align: center; padding: 64px 24px; color: var(--text-tertiary); }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <a href="/" class="logo">fraud pipeline</a>
        <div class="live-badge"><span class="live-dot" id="live-dot"></span> <span id="live-label">Live</span></div>
    </div></header>
    <main class="container">
        <div class="feed-header">
            <div>
                <h1 class="feed-title">Decision Feed</h1>
                <p class="feed-desc">Scored transactions as they clear the pipeline</p>
            </div>
        </div>
        <div class="decision-list" id="feed"><div class="empty">Loading decisions...</div></div>
    </main>
    <script>
        const timeAgo = ts => {
            const diff = Math.floor((Date.now() - new Date(ts).getTime()) / 1000);
            if (diff < 5) return 'now';
            if (diff < 60) return diff + 's ago';
            if (diff < 3600) return Math.floor(diff/60) + 'm ago';
            return Math.floor(diff/3600) + 'h ago';
        };

        function row(d, isNew) {
            const reasons = (d.reasons || []).join(', ') || 'no rules fired';
            return '<div class="decision' + (isNew ? ' new' : '') + '">' +
                '<span class="badge ' + d.decision + '">' + d.decision + '</span>' +
                '<div class="decision-main">' +
                    '<div class="tx-id mono">' + d.transactionId + '</div>' +
                    '<div class="reasons">' + reasons + '</div>' +
                '</div>' +
                '<div class="decision-right">' +
                    '<div class="decision-score mono">' + d.score.toFixed(1) + '</div>' +
                    '<div class="decision-time">' + timeAgo(d.evaluatedAt) + '</div>' +
                '</div>' +
            '</div>';
        }

        const feedEl = document.getElementById('feed');
        let rows = [];

        function renderAll() {
            feedEl.innerHTML = rows.length
                ? rows.map((d, i) => row(d, i === 0)).join('')
                : '<div class="empty">No decisions yet.</div>';
        }

        function prepend(d) {
            rows.unshift(d);
            if (rows.length > 100) rows = rows.slice(0, 100);
            renderAll();
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws');
            const dot = document.getElementById('live-dot');
            const label = document.getElementById('live-label');

            ws.onopen = () => { dot.classList.remove('disconnected'); label.textContent = 'Live'; };
            ws.onmessage = ev => { try { prepend(JSON.parse(ev.data)); } catch (e) {} };
            ws.onclose = () => {
                dot.classList.add('disconnected'); label.textContent = 'Reconnecting';
                setTimeout(connect, 2000);
            };
        }

        connect();
        renderAll();
    </script>
</body>
</html>`

func feedPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, feedPageHTML)
}
