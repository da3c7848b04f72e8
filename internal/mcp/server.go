package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/pdf-field-mapper/internal/config"
	"github.com/a3tai/pdf-field-mapper/internal/editor"
	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/mapper"
	"github.com/a3tai/pdf-field-mapper/internal/pdf"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// Server represents the MCP server instance. It drives one mapping session.
type Server struct {
	config    *config.Config
	mapper    *mapper.Mapper
	viewer    *viewer.Viewer
	mcpServer *server.MCPServer
	logger    logging.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, m *mapper.Mapper, logger logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("mapper cannot be nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	v, err := m.NewViewer()
	if err != nil {
		return nil, fmt.Errorf("failed to start viewer: %w", err)
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		mapper:    m,
		viewer:    v,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_status",
		mcp.WithDescription("Show the mapping session: page, zoom, open form and the fields drawn on the current page"),
	), s.handleStatus)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_list",
		mcp.WithDescription("List mapped fields in document order, optionally only those on one page"),
		mcp.WithNumber("page", mcp.Description("1-based page number to filter by")),
	), s.handleList)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_click",
		mcp.WithDescription("Click the rendered page at screen coordinates. Opens the editor on the field under the point, or a new field there."),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Screen x in pixels from the left edge of the page image")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Screen y in pixels from the top edge of the page image")),
	), s.handleClick)

	saveOpts := []mcp.ToolOption{
		mcp.WithDescription("Save the open form. Omitted attributes keep their current draft value."),
	}
	for _, key := range editor.Keys {
		saveOpts = append(saveOpts, mcp.WithString(key, mcp.Description(formKeyDescription(key))))
	}
	s.mcpServer.AddTool(mcp.NewTool("fieldmap_save", saveOpts...), s.handleSave)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_cancel",
		mcp.WithDescription("Close the open form without saving"),
	), s.handleCancel)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_delete",
		mcp.WithDescription("Delete the field being edited in the open form"),
	), s.handleDelete)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_remove",
		mcp.WithDescription("Remove a mapped field by id"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Field id")),
	), s.handleRemove)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_clear",
		mcp.WithDescription("Remove every mapped field"),
		mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
	), s.handleClear)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_navigate",
		mcp.WithDescription("Change the displayed page"),
		mcp.WithNumber("page", mcp.Description("1-based page to show")),
		mcp.WithString("direction", mcp.Description("next or prev"), mcp.Enum("next", "prev")),
	), s.handleNavigate)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_zoom",
		mcp.WithDescription("Change the zoom scale"),
		mcp.WithNumber("scale", mcp.Description("Scale to set, clamped to the configured bounds")),
		mcp.WithString("direction", mcp.Description("in or out"), mcp.Enum("in", "out")),
	), s.handleZoom)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_export",
		mcp.WithDescription("Export the field map as JSON. Writes to path when given, otherwise returns the document."),
		mcp.WithString("path", mcp.Description("Output path inside the workspace")),
	), s.handleExport)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_import",
		mcp.WithDescription("Replace the field map with an exported document"),
		mcp.WithString("path", mcp.Description("Path of an export file inside the workspace")),
		mcp.WithString("content", mcp.Description("Export document JSON")),
	), s.handleImport)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_publish",
		mcp.WithDescription("Upload the field map export to the configured Cloud Storage bucket"),
	), s.handlePublish)

	s.mcpServer.AddTool(mcp.NewTool(
		"fieldmap_detect",
		mcp.WithDescription("List the form widgets already defined in the template. With apply=true an empty field map is seeded from them."),
		mcp.WithBoolean("apply", mcp.Description("Seed the empty field map with the detected fields")),
	), s.handleDetect)

	s.mcpServer.AddTool(mcp.NewTool(
		"pdf_fill",
		mcp.WithDescription("Fill the template with values keyed by field id and write the PDF inside the workspace"),
		mcp.WithString("output", mcp.Required(), mcp.Description("Output .pdf path inside the workspace")),
		mcp.WithString("values", mcp.Required(), mcp.Description(`Values as a JSON object, e.g. {"driver_name": "Ada"}`)),
	), s.handleFill)

	s.mcpServer.AddTool(mcp.NewTool(
		"pdf_validate_template",
		mcp.WithDescription("Check that a PDF is a usable template. Defaults to the mapped template."),
		mcp.WithString("path", mcp.Description("Path of the PDF inside the workspace")),
	), s.handleValidateTemplate)
}

func formKeyDescription(key string) string {
	switch key {
	case "type":
		return "Field type: text, checkbox, date, signature or number"
	case "checkChar":
		return "Glyph printed for a checked checkbox"
	case "page":
		return "1-based page number"
	case "x", "y":
		return "Bottom-left " + key + " in PDF points"
	case "width", "height", "fontSize":
		return key + " in PDF points"
	case "required":
		return "true or false"
	default:
		return "Field " + key
	}
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.viewer.Snapshot())
}

func (s *Server) handleList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, ok, err := intArg(request.GetArguments(), "page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fields := s.mapper.Store.List()
	if ok {
		fields = s.mapper.Store.ListByPage(page)
	}
	return jsonResult(fields)
}

func (s *Server) handleClick(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	x, err := requireNumber(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := requireNumber(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	form, err := s.viewer.Click(x, y)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(form)
}

func (s *Server) handleSave(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	saved, err := s.viewer.Save(editor.ValuesFrom(request.GetArguments()))
	if err != nil {
		return toolError(err), nil
	}
	s.logger.Debugw("field saved", "field", saved.ID, "page", saved.Page)
	return jsonResult(saved)
}

func (s *Server) handleCancel(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.viewer.Cancel(); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Form closed"), nil
}

func (s *Server) handleDelete(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var id string
	if form := s.viewer.Form(); form != nil {
		id = form.OriginalID
	}
	if err := s.viewer.Delete(); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted field %q", id)), nil
}

func (s *Server) handleRemove(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := s.mapper.Store.Get(id); !ok {
		return toolError(fieldmap.NewError(fieldmap.ErrorTypeNotFound, "field not found").WithField(id)), nil
	}
	s.mapper.Store.Remove(id)
	return mcp.NewToolResultText(fmt.Sprintf("Removed field %q", id)), nil
}

func (s *Server) handleClear(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	confirm, _, err := boolArg(request.GetArguments(), "confirm")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !confirm {
		return mcp.NewToolResultError("clearing every field requires confirm=true"), nil
	}

	n := s.mapper.Store.Count()
	s.mapper.Store.Clear()
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d fields", n)), nil
}

func (s *Server) handleNavigate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	page, hasPage, err := intArg(args, "page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	direction, _ := stringArg(args, "direction")

	switch {
	case hasPage:
		err = s.viewer.GoToPage(page)
	case direction == "next":
		err = s.viewer.NextPage()
	case direction == "prev":
		err = s.viewer.PrevPage()
	default:
		return mcp.NewToolResultError("provide page or direction (next, prev)"), nil
	}
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(s.viewer.Snapshot())
}

func (s *Server) handleZoom(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	scale, hasScale, err := numberArg(args, "scale")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	direction, _ := stringArg(args, "direction")

	switch {
	case hasScale:
		err = s.viewer.SetScale(scale)
	case direction == "in":
		err = s.viewer.ZoomIn()
	case direction == "out":
		err = s.viewer.ZoomOut()
	default:
		return mcp.NewToolResultError("provide scale or direction (in, out)"), nil
	}
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Scale %.2f", s.viewer.Scale())), nil
}

func (s *Server) handleExport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if path, ok := stringArg(request.GetArguments(), "path"); ok && path != "" {
		out, err := s.mapper.ExportFile(path)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Exported %d fields to %s", s.mapper.Store.Count(), out)), nil
	}

	var buf bytes.Buffer
	if err := s.mapper.Export(&buf); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) handleImport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")

	var err error
	var count int
	switch {
	case path != "":
		result, ierr := s.mapper.ImportFile(path)
		count, err = result.Count, ierr
	case content != "":
		result, ierr := s.mapper.Import(strings.NewReader(content))
		count, err = result.Count, ierr
	default:
		return mcp.NewToolResultError("provide path or content"), nil
	}
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Imported %d fields", count)), nil
}

func (s *Server) handlePublish(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := s.mapper.Publish(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Published field map to " + url), nil
}

func (s *Server) handleDetect(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	apply, _, err := boolArg(request.GetArguments(), "apply")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if apply {
		n, err := s.mapper.SeedFromTemplate()
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Seeded %d fields from the template", n)), nil
	}

	fields, err := s.mapper.DetectFields()
	if err != nil {
		return toolError(err), nil
	}
	if fields == nil {
		fields = []fieldmap.FieldDefinition{}
	}
	return jsonResult(fields)
}

func (s *Server) handleFill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	values, err := fillValues(request.GetArguments()["values"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.mapper.FillFile(ctx, pdf.FillRequest{OutputPath: output, Values: values})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleValidateTemplate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := stringArg(request.GetArguments(), "path")
	result, err := s.mapper.ValidateTemplate(path)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

// Run serves MCP over stdio until the context is canceled or stdin closes
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcpServer)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports err to the client, listing every violation for form validation failures
func toolError(err error) *mcp.CallToolResult {
	var verr *editor.ValidationError
	if errors.As(err, &verr) {
		msgs := make([]string, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			msgs = append(msgs, v.Message)
		}
		return mcp.NewToolResultError("invalid field: " + strings.Join(msgs, "; "))
	}
	var missing *pdf.MissingRequiredError
	if errors.As(err, &missing) {
		return mcp.NewToolResultError("missing required values: " + strings.Join(missing.IDs, ", "))
	}
	return mcp.NewToolResultError(err.Error())
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func numberArg(args map[string]interface{}, key string) (float64, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}

	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s must be a number", key)
		}
		n = parsed
	default:
		return 0, false, fmt.Errorf("%s must be a number", key)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false, fmt.Errorf("%s must be a finite number", key)
	}
	return n, true, nil
}

func requireNumber(args map[string]interface{}, key string) (float64, error) {
	n, ok, err := numberArg(args, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("required argument %q not found", key)
	}
	return n, nil
}

func intArg(args map[string]interface{}, key string) (int, bool, error) {
	n, ok, err := numberArg(args, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n != float64(int(n)) {
		return 0, false, fmt.Errorf("%s must be a whole number", key)
	}
	return int(n), true, nil
}

func boolArg(args map[string]interface{}, key string) (bool, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false, fmt.Errorf("%s must be true or false", key)
		}
		return b, true, nil
	default:
		return false, false, fmt.Errorf("%s must be true or false", key)
	}
}

// fillValues accepts the values argument as a JSON object or a JSON-encoded string
func fillValues(raw interface{}) (map[string]string, error) {
	var obj map[string]interface{}
	switch t := raw.(type) {
	case nil:
		return nil, fmt.Errorf("required argument \"values\" not found")
	case string:
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return nil, fmt.Errorf("values must be a JSON object: %w", err)
		}
	case map[string]interface{}:
		obj = t
	default:
		return nil, fmt.Errorf("values must be a JSON object")
	}

	values := make(map[string]string, len(obj))
	for k := range obj {
		if s, ok := stringArg(obj, k); ok {
			values[k] = s
		}
	}
	return values, nil
}
