package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func panelPath(mac string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/api/panels/")
	b.WriteString(mac)

	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}

	return b.String()
}

func (c *Client) get(ctx context.Context, path string) (any, error) {
	return c.execute(ctx, request{method: http.MethodGet, path: path, requiresAuth: true})
}

func (c *Client) post(ctx context.Context, path string, body any) (any, error) {
	return c.execute(ctx, request{method: http.MethodPost, path: path, body: body, requiresAuth: true})
}

// asNotFound fills in the entity of a 404 from the executor.
func asNotFound(err error, resource, id string) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		nf.Resource = resource
		nf.ID = id
	}

	return err
}

// GetPanels returns every panel the account can access. Panels without a
// valid MAC address are skipped.
func (c *Client) GetPanels(ctx context.Context) ([]Panel, error) {
	data, err := c.get(ctx, "/api/panels")
	if err != nil {
		return nil, err
	}

	objs := objects(data)
	panels := make([]Panel, 0, len(objs))

	for _, obj := range objs {
		raw, _ := panelMACKeys.str(obj)

		mac, err := NormalizeMAC(raw)
		if err != nil {
			c.options.requestLogger.Warnf("skipping panel with invalid MAC address %q", raw)
			continue
		}

		panels = append(panels, PanelFromAPI(obj, mac))
	}

	return panels, nil
}

// GetPanel returns the panel with the given MAC address, in any common
// notation. A panel the account cannot see yields a [*NotFoundError].
func (c *Client) GetPanel(ctx context.Context, mac string) (*Panel, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, panelPath(normalized))
	if err != nil {
		return nil, asNotFound(err, "panel", mac)
	}

	obj, ok := data.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, &NotFoundError{Resource: "panel", ID: mac, Path: panelPath(normalized)}
	}

	panel := PanelFromAPI(obj, normalized)

	return &panel, nil
}

func (c *Client) GetAreas(ctx context.Context, mac string) ([]Area, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, panelPath(normalized, "areas"))
	if err != nil {
		return nil, err
	}

	objs := objects(data)
	areas := make([]Area, 0, len(objs))

	for _, obj := range objs {
		areas = append(areas, AreaFromAPI(obj))
	}

	return areas, nil
}

func (c *Client) GetArea(ctx context.Context, mac, areaID string) (*Area, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	path := panelPath(normalized, "areas", areaID)

	data, err := c.get(ctx, path)
	if err != nil {
		return nil, asNotFound(err, "area", areaID)
	}

	obj, ok := data.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, &NotFoundError{Resource: "area", ID: areaID, Path: path}
	}

	area := AreaFromAPI(obj)

	return &area, nil
}

// SetAreaState arms, stay-arms or disarms an area. The API often answers
// 408 while the panel applies the change; the returned area is nil then,
// and also when the response carries no body.
func (c *Client) SetAreaState(ctx context.Context, mac, areaID string, command AreaCommand) (*Area, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	if !command.Valid() {
		return nil, fmt.Errorf("invalid area command %q", command)
	}

	c.options.requestLogger.Debugf("setting area %s of panel %s to %s", areaID, normalized, command)

	data, err := c.post(ctx, panelPath(normalized, "areas", areaID, "state"), map[string]any{"state": string(command)})
	if err != nil {
		return nil, asNotFound(err, "area", areaID)
	}

	obj, ok := data.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, nil
	}

	area := AreaFromAPI(obj)

	return &area, nil
}

func (c *Client) GetZones(ctx context.Context, mac string) ([]Zone, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, panelPath(normalized, "zones"))
	if err != nil {
		return nil, err
	}

	objs := objects(data)
	zones := make([]Zone, 0, len(objs))

	for _, obj := range objs {
		zones = append(zones, ZoneFromAPI(obj))
	}

	return zones, nil
}

func (c *Client) GetOutputs(ctx context.Context, mac string) ([]Output, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, panelPath(normalized, "outputs"))
	if err != nil {
		return nil, err
	}

	objs := objects(data)
	outputs := make([]Output, 0, len(objs))

	for _, obj := range objs {
		outputs = append(outputs, OutputFromAPI(obj))
	}

	return outputs, nil
}

// SetOutputState switches an output on or off.
func (c *Client) SetOutputState(ctx context.Context, mac, outputID string, on bool) error {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}

	c.options.requestLogger.Debugf("setting output %s of panel %s to %t", outputID, normalized, on)

	if _, err := c.post(ctx, panelPath(normalized, "outputs", outputID), map[string]any{"state": on}); err != nil {
		return asNotFound(err, "output", outputID)
	}

	return nil
}

func (c *Client) GetMeasurements(ctx context.Context, mac string) ([]Measurement, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	data, err := c.get(ctx, panelPath(normalized, "measurements"))
	if err != nil {
		return nil, err
	}

	objs := objects(data)
	measurements := make([]Measurement, 0, len(objs))

	for _, obj := range objs {
		measurements = append(measurements, MeasurementFromAPI(obj))
	}

	return measurements, nil
}

// CaptureCamImage asks a camera zone for a still image and returns the
// image bytes. It returns nil bytes when the panel did not deliver an image
// in time.
func (c *Client) CaptureCamImage(ctx context.Context, mac, zoneID string) ([]byte, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	image, err := c.executeRaw(ctx, request{
		method:       http.MethodPost,
		path:         panelPath(normalized, "cameras", zoneID, "capture"),
		requiresAuth: true,
	})
	if err != nil {
		return nil, asNotFound(err, "camera zone", zoneID)
	}

	if len(image) == 0 {
		return nil, nil
	}

	return image, nil
}
