package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleLoginPage serves the built-in login page. Deployments with a real
// identity flow point LOGIN_PAGE_URL elsewhere and never hit this.
func (b *Broker) handleLoginPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginPage))
}

const loginPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>atelier login</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 26rem; margin: 4rem auto; }
  label { display: block; margin-top: 1rem; }
  input { width: 100%; padding: .4rem; margin-top: .25rem; }
  button { margin-top: 1.5rem; padding: .5rem 1.5rem; }
  #status { margin-top: 1rem; }
</style>
</head>
<body>
<h1>atelier</h1>
<form id="login">
  <label>Name <input name="user" required autofocus></label>
  <label>Email <input name="email" type="email"></label>
  <button type="submit">Sign in</button>
</form>
<p id="status"></p>
<script>
const token = new URLSearchParams(window.location.search).get("token");
const status = document.getElementById("status");
document.getElementById("login").addEventListener("submit", async (e) => {
  e.preventDefault();
  if (!token) { status.textContent = "missing login token"; return; }
  const form = new FormData(e.target);
  const res = await fetch("/api/login/simple", {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify({ token, user: form.get("user"), email: form.get("email") || undefined }),
  });
  status.textContent = res.ok ? "Signed in. You can close this tab." : "Login failed: " + await res.text();
});
</script>
</body>
</html>
`
