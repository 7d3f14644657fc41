package nkconnect

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"html/template"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"nksdk/pkg/nk"
	"nksdk/pkg/session"
)

const buttonAlt = "Zaloguj z NK"

var buttonTemplate = template.Must(template.New("button").Parse(
	`{{if .Popup}}<script type="text/javascript">
  function NkConnectPopup() {
    var pageURL = {{.LoginURI}};
    var w = 490;
    var h = 247;
    var left = (screen.width/2)-(w/2);
    var top = (screen.height/2)-(h/2);
    window.open(pageURL, 'nkconnect', 'modal=yes, toolbar=no, location=yes, directories=no, status=no, menubar=no, scrollbars=no, resizable=no, copyhistory=no, width='+w+', height='+h+', top='+top+', left='+left);
  }
</script><a href="javascript:NkConnectPopup();"><img src="{{.Image}}" alt="{{.Alt}}" border="0"></a>` +
		`{{else}}<a href="{{.LoginURI}}"><img src="{{.Image}}" alt="{{.Alt}}" border="0"></a>{{end}}`))

// OTP returns the login nonce for this visitor, minting and storing one when absent
func (c *Connect) OTP() string {
	key := c.keys.Key(session.FieldOTP)
	if otp, ok := c.req.Session.Get(key); ok && otp != "" {
		return otp
	}

	seed := strconv.FormatInt(c.req.now().UnixNano(), 10) + uuid.NewString()
	sum := sha1.Sum([]byte(seed))
	otp := hex.EncodeToString(sum[:])

	c.req.Session.Set(key, otp)
	return otp
}

// consumeOTP removes the stored nonce and returns it. A nonce is good for
// exactly one callback, whatever its outcome.
func (c *Connect) consumeOTP() (string, bool) {
	key := c.keys.Key(session.FieldOTP)
	otp, ok := c.req.Session.Get(key)
	c.req.Session.Unset(key)
	return otp, ok && otp != ""
}

// LoginURI is the provider login page address the button points to
func (c *Connect) LoginURI() string {
	return c.oauthConfig().AuthCodeURL(c.OTP(), oauth2.SetAuthURLParam("scope", c.config.Scope()))
}

// LogoutLink is a link back to this page that logs the visitor out
func (c *Connect) LogoutLink() string {
	return c.redirectURI(PhaseLogout)
}

// redirectURI is the configured callback URL, or the current page stripped of
// login parameters, tagged with the phase marker.
func (c *Connect) redirectURI(phase string) string {
	base := c.config.CallbackURL
	if base == "" {
		base = c.req.pageURL()
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + ParamState + "=" + phase
}

// Button renders the "Log in with NK" button for the configured login mode
func (c *Connect) Button() template.HTML {
	scheme := "http://"
	if c.req.Secure() {
		scheme = "https://"
	}

	data := struct {
		Popup    bool
		LoginURI string
		Image    string
		Alt      string
	}{
		Popup:    c.config.LoginMode == nk.LoginModePopup,
		LoginURI: c.LoginURI(),
		Image:    scheme + c.config.ImageURL,
		Alt:      buttonAlt,
	}

	var buf bytes.Buffer
	if err := buttonTemplate.Execute(&buf, data); err != nil {
		c.logger.Error("failed to render NK login button", "error", err)
		return ""
	}
	return template.HTML(buf.String())
}
