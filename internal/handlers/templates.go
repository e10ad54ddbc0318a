package handlers

// HTML page bodies. The write-path pages are served as Shift_JIS with
// charset=x-sjis because the legacy client UIs parse the body text; the
// browser-facing auth pages are plain UTF-8 HTML.
//
// Placeholders use %s via fmt.Sprintf; the formats are strictly positional
// by design, the same as the DAT hot path.

const writingSuccessHTML = `<html>
<head>
<title>書きこみました</title>
<meta http-equiv="Content-Type" content="text/html; charset=x-sjis">
</head>
<body>書きこみが終わりました。<br><br>
画面を切り替えるまでしばらくお待ち下さい。
</body>
</html>`

// writingFailedHTML takes the reason.
const writingFailedHTML = `<html>
<head>
<title>ＥＲＲＯＲ！</title>
<meta http-equiv="Content-Type" content="text/html; charset=x-sjis">
</head>
<body>ＥＲＲＯＲ - %s<br><br>
エッヂ
</body>
</html>`

// requestAuthMateHTML takes the host URL and the pending token. Mate opens
// the link in the device browser, where Turnstile can run.
const requestAuthMateHTML = `<html>
<head>
<title>認証が必要です</title>
<meta http-equiv="Content-Type" content="text/html; charset=x-sjis">
</head>
<body>書き込むには認証が必要です。<br><br>
以下のリンクをブラウザで開いて認証を済ませてから、もう一度書き込んでください。<br>
https://%s/auth?token=%s<br><br>
認証は一度だけ必要です。
</body>
</html>`

// requestAuthCodeHTML takes the host URL and the 6-digit code.
const requestAuthCodeHTML = `<html>
<head>
<title>認証が必要です</title>
<meta http-equiv="Content-Type" content="text/html; charset=x-sjis">
</head>
<body>書き込むには認証が必要です。<br><br>
ブラウザで https://%s/auth-code を開いて、次の認証コードを入力してください。<br><br>
認証コード: %s<br><br>
コードの有効期限は5分です。認証は一度だけ必要です。
</body>
</html>`

// requestAuthLocalHTML takes the pending token; local debugging only.
const requestAuthLocalHTML = `<html>
<head>
<title>認証が必要です (local)</title>
<meta http-equiv="Content-Type" content="text/html; charset=x-sjis">
</head>
<body>local debugging mode<br><br>
token: %s
</body>
</html>`

// authGettingHTML takes the Turnstile site key, the pending token and the
// reCAPTCHA site key.
const authGettingHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>認証</title>
<script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
<script src="https://www.google.com/recaptcha/api.js" async defer></script>
</head>
<body>
<h1>書き込み認証</h1>
<form method="POST">
  <input type="hidden" name="edge-token" value="%[2]s">
  <div class="cf-turnstile" data-sitekey="%[1]s"></div>
  <div class="g-recaptcha" data-sitekey="%[3]s"></div>
  <button type="submit">認証する</button>
</form>
</body>
</html>`

// authCodeGettingHTML takes the Turnstile site key and the reCAPTCHA site
// key.
const authCodeGettingHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>認証コード入力</title>
<script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
<script src="https://www.google.com/recaptcha/api.js" async defer></script>
</head>
<body>
<h1>認証コード入力</h1>
<form method="POST">
  <input type="text" name="auth-code" placeholder="6桁の認証コード" maxlength="6">
  <div class="cf-turnstile" data-sitekey="%[1]s"></div>
  <div class="g-recaptcha" data-sitekey="%[2]s"></div>
  <button type="submit">認証する</button>
</form>
</body>
</html>`

// authFailedHTML takes the reason.
const authFailedHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>認証失敗</title></head>
<body>
<h1>認証に失敗しました</h1>
<p>%s</p>
</body>
</html>`

// authSuccessfulHTML takes the activated token.
const authSuccessfulHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>認証完了</title></head>
<body>
<h1>認証しました</h1>
<p>認証が完了しました。このトークンで書き込みできます: %s</p>
</body>
</html>`

// webuiDisabledHTML takes the site title.
const webuiDisabledHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<p>Web UIは無効になっています。専用ブラウザから利用してください。</p>
</body>
</html>`
