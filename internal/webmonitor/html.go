package webmonitor

// indexHTML is a bare operator page: recent detections, the threshold slider
// and a WebRTC data channel toggle. Styling lives in /assets when present.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Detection Bridge</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/app.css">
</head>
<body>
    <h1>Detection Bridge</h1>
    <div id="error-container" style="display:none;color:#c00;"></div>

    <section>
        <label for="confidence">Confidence threshold</label>
        <input type="range" id="confidence" min="0" max="1" step="0.01" value="0.5">
        <span id="confidence-value">0.50</span>
    </section>

    <section>
        <label><input type="checkbox" id="use-webrtc"> Receive over WebRTC data channel</label>
    </section>

    <section>
        <h2>Recent detections</h2>
        <ul id="recent"></ul>
    </section>

    <script>
    const MAX_RECENT_SCANS = 5;
    let scans = [];
    let stream = {width: 640, height: 480};
    let socket = null;
    let channel = null;

    const errorContainer = document.getElementById('error-container');
    const slider = document.getElementById('confidence');
    const sliderValue = document.getElementById('confidence-value');

    function showError(text) {
        errorContainer.textContent = text;
        errorContainer.style.display = text ? 'block' : 'none';
    }

    function send(event, data) {
        const msg = JSON.stringify({event: event, data: data});
        if (channel && channel.readyState === 'open') {
            channel.send(msg);
        } else if (socket && socket.readyState === WebSocket.OPEN) {
            socket.send(msg);
        }
    }

    function onEnvelope(raw) {
        const env = JSON.parse(raw);
        if (env.event !== 'detection') {
            return;
        }
        scans.unshift(env.data);
        scans = scans.slice(0, MAX_RECENT_SCANS);
        render();
    }

    function render() {
        const list = document.getElementById('recent');
        list.innerHTML = '';
        for (const s of scans) {
            const li = document.createElement('li');
            const conf = s.confidence === null ? '?' : Math.floor(s.confidence * 100) + '%';
            const box = s.box
                ? ' [' + s.box.x + ',' + s.box.y + ' ' + s.box.width + 'x' + s.box.height +
                  ' of ' + stream.width + 'x' + stream.height + ']'
                : '';
            li.textContent = s.timestamp + ' ' + s.content + ' ' + conf + box;
            list.appendChild(li);
        }
    }

    function connectSocket() {
        socket = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        socket.onopen = () => showError('');
        socket.onmessage = (ev) => { if (!channel) onEnvelope(ev.data); };
        socket.onclose = () => {
            showError('Connection to the bridge lost. Retrying...');
            setTimeout(connectSocket, 2000);
        };
    }

    async function connectWebRTC() {
        const pc = new RTCPeerConnection({iceServers: [{urls: 'stun:stun.l.google.com:19302'}]});
        const dc = pc.createDataChannel('ui', {ordered: false, maxRetransmits: 0});
        dc.onmessage = (ev) => onEnvelope(ev.data);
        dc.onopen = () => { channel = dc; };
        dc.onclose = () => { channel = null; };

        await pc.setLocalDescription(await pc.createOffer());
        await new Promise((resolve) => {
            if (pc.iceGatheringState === 'complete') return resolve();
            pc.onicegatheringstatechange = () => { if (pc.iceGatheringState === 'complete') resolve(); };
        });
        const resp = await fetch('/api/webrtc/offer', {
            method: 'POST',
            headers: {'Content-Type': 'application/json'},
            body: JSON.stringify(pc.localDescription),
        });
        if (!resp.ok) {
            showError('WebRTC unavailable: ' + (await resp.json()).error);
            return null;
        }
        await pc.setRemoteDescription(await resp.json());
        return pc;
    }

    let peer = null;
    document.getElementById('use-webrtc').addEventListener('change', async (ev) => {
        if (ev.target.checked) {
            peer = await connectWebRTC();
        } else if (peer) {
            peer.close();
            peer = null;
            channel = null;
        }
    });

    slider.addEventListener('input', () => {
        sliderValue.textContent = parseFloat(slider.value).toFixed(2);
    });
    slider.addEventListener('change', () => {
        send('override_th', parseFloat(slider.value));
    });

    fetch('/api/status').then((r) => r.json()).then((status) => {
        slider.value = status.threshold;
        sliderValue.textContent = status.threshold.toFixed(2);
        scans = status.recent_detections || [];
        if (status.stream) stream = status.stream;
        render();
    });

    connectSocket();
    </script>
</body>
</html>
`
