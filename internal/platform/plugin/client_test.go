package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/config"
)

// fakePlugin mimics the plugin's HTTP surface.
type fakePlugin struct {
	world    int
	requests []string
	bodies   map[string]map[string]any
	status   string
	failPath string
	slowPath string
}

func (f *fakePlugin) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		path := c.Request.URL.Path
		f.requests = append(f.requests, path)
		if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
			var m map[string]any
			_ = json.NewDecoder(c.Request.Body).Decode(&m)
			f.bodies[path] = m
		}
		if path == f.slowPath {
			time.Sleep(200 * time.Millisecond)
		}
		if path == f.failPath {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Next()
	})
	r.GET("/status", func(c *gin.Context) { c.JSON(200, gin.H{"connected": true}) })
	r.GET("/world", func(c *gin.Context) { c.JSON(200, gin.H{"world": f.world}) })
	r.POST("/world/hop", func(c *gin.Context) { c.Status(200) })
	r.POST("/trade/request", func(c *gin.Context) { c.Status(200) })
	r.POST("/trade/offer", func(c *gin.Context) { c.Status(200) })
	r.POST("/trade/accept", func(c *gin.Context) { c.Status(200) })
	r.GET("/trade/status", func(c *gin.Context) { c.JSON(200, gin.H{"status": f.status, "partner": "Zezima"}) })
	r.GET("/screenshot", func(c *gin.Context) { c.Data(200, "image/png", []byte{0x89, 'P', 'N', 'G'}) })
	r.POST("/chat/send", func(c *gin.Context) { c.Status(200) })
	return r
}

func newTestClient(t *testing.T, f *fakePlugin, timeout time.Duration) *Client {
	t.Helper()
	f.bodies = map[string]map[string]any{}
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{Plugin: config.PluginConfig{BaseURL: srv.URL + "/", CallTimeout: timeout}}, zap.NewNop().Sugar())
}

func TestClient_Choreography(t *testing.T) {
	ctx := context.Background()
	f := &fakePlugin{world: 301, status: "Completed"}
	c := newTestClient(t, f, time.Second)

	require.NoError(t, c.Status(ctx))
	w, err := c.CurrentChannel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 301, w)
	require.NoError(t, c.SwitchChannel(ctx, 302))
	require.NoError(t, c.InitiateContact(ctx, "Zezima"))
	require.NoError(t, c.Offer(ctx, 20_000_000))
	require.NoError(t, c.Accept(ctx))
	st, err := c.SessionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, st.Status)
	assert.Equal(t, "Zezima", st.Extra["partner"])
	img, err := c.CaptureEvidence(ctx)
	require.NoError(t, err)
	assert.Len(t, img, 4)
	require.NoError(t, c.SendMessage(ctx, "thanks", true))

	assert.EqualValues(t, 302, f.bodies["/world/hop"]["world"])
	assert.Equal(t, "Zezima", f.bodies["/trade/request"]["rsn"])
	assert.EqualValues(t, 20_000_000, f.bodies["/trade/offer"]["amount"])
	assert.Equal(t, true, f.bodies["/chat/send"]["public"])
}

func TestClient_NonOKIsRejected(t *testing.T) {
	f := &fakePlugin{failPath: "/trade/request"}
	c := newTestClient(t, f, time.Second)

	err := c.InitiateContact(context.Background(), "Zezima")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClient_CallTimeout(t *testing.T) {
	f := &fakePlugin{slowPath: "/status"}
	c := newTestClient(t, f, 20*time.Millisecond)

	err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}
