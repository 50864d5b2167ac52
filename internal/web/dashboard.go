package web

// dashboardHTML is the embedded HTML/CSS/JS for the status dashboard.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Harvester Dashboard</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{background:#0d1117;color:#c9d1d9;font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;padding:24px;min-height:100vh}
h1{font-size:1.5rem;font-weight:600;color:#f0f6fc;margin-bottom:4px}
.subtitle{color:#8b949e;font-size:0.85rem;margin-bottom:24px}
.subtitle span{color:#58a6ff}
.stats{display:grid;grid-template-columns:repeat(auto-fit,minmax(180px,1fr));gap:16px;margin-bottom:24px}
.card{background:#161b22;border:1px solid #30363d;border-radius:8px;padding:20px}
.card .label{color:#8b949e;font-size:0.75rem;text-transform:uppercase;letter-spacing:0.5px;margin-bottom:8px}
.card .value{font-size:1.75rem;font-weight:700;color:#f0f6fc;font-family:"SF Mono",SFMono-Regular,Consolas,"Liberation Mono",Menlo,monospace}
.card .value.accent{color:#58a6ff}
.card h2{font-size:0.9rem;font-weight:600;color:#f0f6fc;margin-bottom:12px}
table{width:100%;border-collapse:collapse}
th{text-align:left;color:#8b949e;font-size:0.7rem;text-transform:uppercase;letter-spacing:0.5px;padding:6px 8px;border-bottom:1px solid #30363d}
td{padding:8px;font-size:0.8rem;border-bottom:1px solid #21262d;font-family:"SF Mono",SFMono-Regular,Consolas,"Liberation Mono",Menlo,monospace}
td.addr{color:#8b949e;word-break:break-all}
.badge{display:inline-block;font-size:0.65rem;font-weight:700;padding:2px 8px;border-radius:10px;letter-spacing:0.3px;text-transform:uppercase}
.badge.waiting{background:#21262d;color:#8b949e}
.badge.mining{background:rgba(31,111,235,0.2);color:#58a6ff}
.badge.solved{background:rgba(63,185,80,0.2);color:#3fb950}
.badge.failed{background:rgba(248,81,73,0.2);color:#f85149}
.badge.skipped{background:rgba(187,128,9,0.15);color:#e3b341}
.no-data{color:#484f58;font-size:0.85rem;font-style:italic;padding:16px 0}
.dot{display:inline-block;width:8px;height:8px;border-radius:50%;background:#3fb950;margin-right:6px;animation:pulse 2s infinite}
@keyframes pulse{0%,100%{opacity:1}50%{opacity:0.4}}
</style>
</head>
<body>
<h1>Harvester Dashboard</h1>
<p class="subtitle"><span class="dot"></span>Auto-refreshing &middot; challenge <span id="challenge">-</span> &middot; elapsed <span id="elapsed">-</span></p>

<div class="stats">
  <div class="card"><div class="label">Day</div><div class="value" id="day">-</div></div>
  <div class="card"><div class="label">Done This Round</div><div class="value accent" id="done">-</div></div>
  <div class="card"><div class="label">Est. Reward / Solution</div><div class="value" id="reward">-</div></div>
  <div class="card"><div class="label">Next Challenge</div><div class="value" id="next-at">-</div></div>
</div>

<div class="card">
  <h2>Wallets</h2>
  <table>
    <thead><tr><th>Wallet</th><th>Address</th><th>Status</th><th>Solved</th><th>Est. Tokens</th></tr></thead>
    <tbody id="wallet-table"><tr><td colspan="5" class="no-data">No data yet</td></tr></tbody>
  </table>
</div>

<script>
function esc(s){
  if(!s)return"";
  return s.replace(/&/g,"&amp;").replace(/</g,"&lt;").replace(/>/g,"&gt;").replace(/"/g,"&quot;").replace(/'/g,"&#39;");
}
function fmtElapsed(ns){
  if(!ns)return"-";
  var s=Math.floor(ns/1e9);
  var h=Math.floor(s/3600),m=Math.floor(s%3600/60);
  if(h>0)return h+"h "+m+"m";
  if(m>0)return m+"m "+(s%60)+"s";
  return s+"s";
}
function update(data){
  document.getElementById("challenge").textContent=data.challenge_id||"-";
  document.getElementById("elapsed").textContent=fmtElapsed(data.elapsed_ns);
  document.getElementById("day").textContent=data.day||"-";
  document.getElementById("reward").textContent=data.reward_per_solution?data.reward_per_solution.toFixed(6):"-";
  document.getElementById("next-at").textContent=data.next_challenge_at||"-";

  var tb=document.getElementById("wallet-table");
  if(!data.workers||data.workers.length===0){
    tb.innerHTML='<tr><td colspan="5" class="no-data">No data yet</td></tr>';
    document.getElementById("done").textContent="-";
    return;
  }
  var done=0,h="";
  for(var i=0;i<data.workers.length;i++){
    var w=data.workers[i];
    if(w.status==="solved"||w.status==="skipped")done++;
    h+='<tr><td>'+esc(w.name)+'</td><td class="addr">'+esc(w.address)+'</td>'+
      '<td><span class="badge '+esc(w.status)+'">'+esc(w.status)+'</span></td>'+
      '<td>'+w.solved+'</td><td>'+w.estimated_tokens.toFixed(6)+'</td></tr>';
  }
  tb.innerHTML=h;
  document.getElementById("done").textContent=done+"/"+data.workers.length;
}
function poll(){
  fetch("/api/status").then(function(r){return r.json()}).then(update).catch(function(){});
}
poll();
setInterval(poll,5000);
</script>
</body>
</html>` + ""
