package server

// indexHTML records in the browser and encodes 16-bit mono WAV before upload
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>voxcollect</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>voxcollect</h1>
    <form id="login">
        <input id="user" placeholder="Your name" required>
        <button type="submit">Log in</button>
    </form>
    <article id="recorder" hidden>
        <header>Recordings completed: <strong id="count">0</strong> &middot; <a href="#" id="logout">log out</a></header>
        <h2 id="sentence">Loading...</h2>
        <select id="accent">
            <option value="">Accent (optional)</option>
            <option>american</option><option>australian</option><option>british</option>
            <option>indian</option><option>irish</option><option>scottish</option><option>other</option>
        </select>
        <div role="group">
            <button id="record">Record</button>
            <button id="submit" disabled>Submit</button>
            <button id="cancel" class="secondary" disabled>Record again</button>
            <button id="skip" class="secondary">Skip</button>
        </div>
        <audio id="preview" controls hidden></audio>
        <p id="error"></p>
    </article>
</main>
<script>
const $ = (id) => document.getElementById(id);
let user = localStorage.getItem('voxcollect-user') || '';
let ctx, stream, node, chunks = [], blob = null;

function headers() { return {'X-Username': user}; }

async function fetchSentence(skip) {
    try {
        const r = await fetch('/get-sentence?skip=' + !!skip, {headers: headers()});
        const body = await r.json();
        if (!r.ok) throw new Error(body.error);
        $('sentence').textContent = body.sentence;
        $('count').textContent = body.count;
    } catch (e) {
        $('sentence').textContent = 'Error loading sentence';
        $('error').textContent = e.message;
    }
}

function encodeWAV(samples, rate) {
    const buf = new ArrayBuffer(44 + samples.length * 2);
    const v = new DataView(buf);
    const str = (o, s) => { for (let i = 0; i < s.length; i++) v.setUint8(o + i, s.charCodeAt(i)); };
    str(0, 'RIFF'); v.setUint32(4, 36 + samples.length * 2, true); str(8, 'WAVE');
    str(12, 'fmt '); v.setUint32(16, 16, true); v.setUint16(20, 1, true); v.setUint16(22, 1, true);
    v.setUint32(24, rate, true); v.setUint32(28, rate * 2, true); v.setUint16(32, 2, true); v.setUint16(34, 16, true);
    str(36, 'data'); v.setUint32(40, samples.length * 2, true);
    samples.forEach((s, i) => v.setInt16(44 + i * 2, Math.max(-1, Math.min(1, s)) * 0x7fff, true));
    return new Blob([v], {type: 'audio/wav'});
}

function setPreviewing(on) {
    $('submit').disabled = !on;
    $('cancel').disabled = !on;
    $('skip').disabled = on;
    $('preview').hidden = !on;
}

$('record').onclick = async () => {
    if (!node) {
        stream = await navigator.mediaDevices.getUserMedia({audio: true});
        ctx = new AudioContext();
        node = ctx.createScriptProcessor(4096, 1, 1);
        chunks = [];
        node.onaudioprocess = (e) => chunks.push(new Float32Array(e.inputBuffer.getChannelData(0)));
        ctx.createMediaStreamSource(stream).connect(node);
        node.connect(ctx.destination);
        $('record').textContent = 'Stop';
        setPreviewing(false);
        return;
    }
    node.disconnect(); stream.getTracks().forEach((t) => t.stop());
    const samples = chunks.reduce((all, c) => { const m = new Float32Array(all.length + c.length); m.set(all); m.set(c, all.length); return m; }, new Float32Array());
    blob = encodeWAV(samples, ctx.sampleRate);
    $('preview').src = URL.createObjectURL(blob);
    $('record').textContent = 'Record';
    $('record').dataset.rate = ctx.sampleRate;
    await ctx.close(); node = null;
    setPreviewing(true);
};

$('submit').onclick = async () => {
    if (!blob) return;
    const form = new FormData();
    form.append('audio', blob, 'recording.wav');
    form.append('sampleRate', $('record').dataset.rate);
    form.append('accent', $('accent').value);
    $('submit').disabled = true;
    try {
        const r = await fetch('/upload-audio', {method: 'POST', headers: headers(), body: form});
        const body = await r.json();
        if (!r.ok) throw new Error(body.error);
        blob = null; setPreviewing(false); $('error').textContent = '';
        await fetchSentence(false);
    } catch (e) {
        $('error').textContent = 'Upload failed: ' + e.message;
        $('submit').disabled = false;
    }
};

$('cancel').onclick = () => { blob = null; setPreviewing(false); };
$('skip').onclick = () => fetchSentence(true);

function show() {
    $('login').hidden = !!user;
    $('recorder').hidden = !user;
    if (user) fetchSentence(false);
}
$('login').onsubmit = (e) => { e.preventDefault(); user = $('user').value.trim(); localStorage.setItem('voxcollect-user', user); show(); };
$('logout').onclick = (e) => { e.preventDefault(); user = ''; localStorage.removeItem('voxcollect-user'); blob = null; setPreviewing(false); show(); };
show();
</script>
</body>
</html>`
