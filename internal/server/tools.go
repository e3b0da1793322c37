package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-aras/internal/aras"
)

// bindFunc turns tool arguments into an Operation of the tool's kind.
type bindFunc func(args arguments, op *aras.Operation) error

// tool pairs an MCP tool definition with the operation it performs.
type tool struct {
	kind aras.Kind
	def  mcp.Tool
	bind bindFunc
}

// Common parameter definitions.
var (
	entityTypeParam = mcp.WithString("entityType",
		mcp.Required(),
		mcp.Description("Item type (OData entity set), e.g. Part, Document or \"Part BOM\""),
	)
	identifierParam = mcp.WithString("identifier",
		mcp.Required(),
		mcp.Description("Item id (32 character Aras GUID)"),
	)
	returnMinimalParam = mcp.WithBoolean("returnMinimal",
		mcp.Description("Ask the server not to echo the written item"),
	)
)

func (s *Server) tools() []tool {
	return []tool{
		{
			kind: aras.KindGet,
			def: mcp.NewTool("get_items",
				mcp.WithDescription("Query items of a type, or fetch one item by id"),
				mcp.WithReadOnlyHintAnnotation(true),
				entityTypeParam,
				mcp.WithString("identifier", mcp.Description("Item id; omit to query the collection")),
				mcp.WithString("filter", mcp.Description("OData $filter expression, e.g. item_number eq 'P-100'")),
				mcp.WithString("select", mcp.Description("Comma separated properties to return ($select)")),
				mcp.WithString("expand", mcp.Description("Relationships to expand ($expand)")),
				mcp.WithString("orderBy", mcp.Description("Sort order ($orderby), e.g. modified_on desc")),
				mcp.WithNumber("top", mcp.Description("Maximum number of items ($top)"), mcp.Min(0)),
				mcp.WithNumber("skip", mcp.Description("Number of items to skip ($skip)"), mcp.Min(0)),
				mcp.WithNumber("pageSize", mcp.Description("Server page size (Prefer: odata.maxpagesize)"), mcp.Min(0)),
			),
			bind: func(args arguments, op *aras.Operation) error {
				var err error
				if op.EntityType, err = args.requiredString("entityType"); err != nil {
					return err
				}
				if op.Identifier, err = args.optionalString("identifier"); err != nil {
					return err
				}
				if op.Filter, err = args.optionalString("filter"); err != nil {
					return err
				}
				if op.Select, err = args.optionalString("select"); err != nil {
					return err
				}
				if op.Expand, err = args.optionalString("expand"); err != nil {
					return err
				}
				if op.OrderBy, err = args.optionalString("orderBy"); err != nil {
					return err
				}
				if op.Top, err = args.optionalInt("top"); err != nil {
					return err
				}
				if op.Skip, err = args.optionalInt("skip"); err != nil {
					return err
				}
				op.PageSize, err = args.optionalInt("pageSize")
				return err
			},
		},
		{
			kind: aras.KindCreate,
			def: mcp.NewTool("create_item",
				mcp.WithDescription("Create a new item"),
				entityTypeParam,
				mcp.WithObject("properties", mcp.Required(), mcp.Description("Property values of the new item")),
				returnMinimalParam,
			),
			bind: func(args arguments, op *aras.Operation) error {
				var err error
				if op.EntityType, err = args.requiredString("entityType"); err != nil {
					return err
				}
				if op.Properties, err = args.object("properties", true); err != nil {
					return err
				}
				op.ReturnMinimal, err = args.optionalBool("returnMinimal")
				return err
			},
		},
		{
			kind: aras.KindUpdate,
			def: mcp.NewTool("update_item",
				mcp.WithDescription("Update properties of an existing item"),
				mcp.WithIdempotentHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithObject("properties", mcp.Required(), mcp.Description("Properties to change")),
				mcp.WithString("action", mcp.Description("Aras action annotation: edit (default), update, lock or unlock")),
				returnMinimalParam,
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				if op.Properties, err = args.object("properties", true); err != nil {
					return err
				}
				if op.Action, err = args.optionalString("action"); err != nil {
					return err
				}
				op.ReturnMinimal, err = args.optionalBool("returnMinimal")
				return err
			},
		},
		{
			kind: aras.KindUpsertMerge,
			def: mcp.NewTool("upsert_item",
				mcp.WithDescription("Update the item with this id, or create it when it does not exist"),
				mcp.WithIdempotentHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithObject("properties", mcp.Required(), mcp.Description("Full property set of the item")),
				returnMinimalParam,
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				if op.Properties, err = args.object("properties", true); err != nil {
					return err
				}
				op.ReturnMinimal, err = args.optionalBool("returnMinimal")
				return err
			},
		},
		{
			kind: aras.KindUpdateProperty,
			def: mcp.NewTool("update_property",
				mcp.WithDescription("Set a single property of an item"),
				mcp.WithIdempotentHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithString("propertyName", mcp.Required(), mcp.Description("Property to set")),
				mcp.WithAny("value", mcp.Required(), mcp.Description("New value")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				if op.PropertyName, err = args.requiredString("propertyName"); err != nil {
					return err
				}
				op.Value, err = args.required("value")
				return err
			},
		},
		{
			kind: aras.KindDelete,
			def: mcp.NewTool("delete_item",
				mcp.WithDescription("Delete an item"),
				mcp.WithDestructiveHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithBoolean("purge", mcp.Description("Delete only this version instead of every generation")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				op.Purge, err = args.optionalBool("purge")
				return err
			},
		},
		{
			kind: aras.KindDeleteRelationship,
			def: mcp.NewTool("delete_relationship",
				mcp.WithDescription("Remove a relationship item from its source item"),
				mcp.WithDestructiveHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithString("relationshipName", mcp.Required(), mcp.Description("Relationship type, e.g. \"Part BOM\"")),
				mcp.WithString("relatedIdentifier", mcp.Required(), mcp.Description("Id of the relationship item")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				if op.RelationshipName, err = args.requiredString("relationshipName"); err != nil {
					return err
				}
				op.RelatedIdentifier, err = args.requiredString("relatedIdentifier")
				return err
			},
		},
		{
			kind: aras.KindClearProperty,
			def: mcp.NewTool("clear_item_property",
				mcp.WithDescription("Set a property of an item to null"),
				mcp.WithIdempotentHintAnnotation(true),
				entityTypeParam,
				identifierParam,
				mcp.WithString("propertyName", mcp.Required(), mcp.Description("Property to clear")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				if err := bindItem(args, op); err != nil {
					return err
				}
				var err error
				op.PropertyName, err = args.requiredString("propertyName")
				return err
			},
		},
		{
			kind: aras.KindCallMethod,
			def: mcp.NewTool("call_method",
				mcp.WithDescription("Run a server method by name"),
				mcp.WithString("methodName", mcp.Required(), mcp.Description("Name of the server method")),
				mcp.WithObject("parameters", mcp.Description("Parameters passed to the method")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				var err error
				if op.MethodName, err = args.requiredString("methodName"); err != nil {
					return err
				}
				op.Properties, err = args.object("parameters", false)
				return err
			},
		},
		{
			kind: aras.KindGetList,
			def: mcp.NewTool("get_list",
				mcp.WithDescription("Fetch the values of a list"),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithString("listId", mcp.Required(), mcp.Description("Id of the List item")),
				mcp.WithString("expand", mcp.Description("Relationships to expand ($expand)")),
			),
			bind: func(args arguments, op *aras.Operation) error {
				var err error
				if op.Identifier, err = args.requiredString("listId"); err != nil {
					return err
				}
				op.Expand, err = args.optionalString("expand")
				return err
			},
		},
	}
}

func bindItem(args arguments, op *aras.Operation) error {
	var err error
	if op.EntityType, err = args.requiredString("entityType"); err != nil {
		return err
	}
	op.Identifier, err = args.requiredString("identifier")
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	for _, t := range s.tools() {
		s.mcpServer.AddTool(t.def, s.handler(t))
	}
}

// handler validates arguments, runs the operation and serialises the Result.
func (s *Server) handler(t tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := toArguments(request.Params.Arguments)
		if err != nil {
			return toolResult(validationFailure(err))
		}

		op := aras.Operation{Kind: t.kind}
		if err := t.bind(args, &op); err != nil {
			s.logger.Warning("%s: %v", t.def.Name, err)
			return toolResult(validationFailure(err))
		}

		s.logger.Debug("Tool %s -> %s", t.def.Name, t.kind)
		return toolResult(s.executor.Execute(ctx, op))
	}
}

func validationFailure(err error) *aras.Result {
	var e *aras.Error
	if !errors.As(err, &e) {
		e = &aras.Error{Kind: aras.KindValidation, Detail: err.Error()}
	}
	return &aras.Result{Success: false, Error: e}
}

// toolResult renders a Result as JSON text. Failures are marked as tool
// errors so the host can tell them apart without parsing.
func toolResult(res *aras.Result) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
