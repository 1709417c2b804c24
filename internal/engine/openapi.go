package engine

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIDocument builds an OpenAPI 3 document for the JSON:API surface from the schema.
func OpenAPIDocument(resources []*Resource, title, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   title,
			Version: version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
			SecuritySchemes: openapi3.SecuritySchemes{
				"apiKey": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewJWTSecurityScheme().WithBearerFormat("opaque"),
				},
			},
		},
	}

	doc.Components.Schemas["Error"] = openapi3.NewSchemaRef("", errorSchema())

	for _, res := range resources {
		addResource(doc, res)
	}
	return doc
}

func errorSchema() *openapi3.Schema {
	item := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("title", openapi3.NewStringSchema()).
		WithProperty("detail", openapi3.NewStringSchema())
	return openapi3.NewObjectSchema().WithProperty("errors", openapi3.NewArraySchema().WithItems(item))
}

// fieldSchema converts a field definition to a property schema.
func fieldSchema(f Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Type {
	case TypeInt, TypeMoney, TypeRef:
		s = openapi3.NewInt64Schema()
	case TypeFloat:
		s = openapi3.NewFloat64Schema()
	case TypeBool:
		s = openapi3.NewBoolSchema()
	case TypeJSON:
		s = openapi3.NewObjectSchema()
	case TypeTimestamp:
		s = openapi3.NewDateTimeSchema()
	default:
		s = openapi3.NewStringSchema()
	}

	if f.MinInt != nil {
		s.WithMin(float64(*f.MinInt))
	}
	if f.MaxInt != nil {
		s.WithMax(float64(*f.MaxInt))
	}
	if f.MaxLen != nil {
		s.WithMaxLength(int64(*f.MaxLen))
	}
	if f.Pattern != nil {
		s.WithPattern(f.Pattern.String())
	}
	for _, c := range f.Choices {
		s.Enum = append(s.Enum, c)
	}
	if f.DefaultValue != nil {
		s.Default = f.DefaultValue
	}
	s.Nullable = f.Nullable
	s.ReadOnly = f.Internal
	s.WriteOnly = f.WriteOnly
	if f.Help != "" {
		s.Description = f.Help
	}
	return s
}

func attributesSchema(res *Resource) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for _, f := range res.Fields {
		s.WithProperty(f.Name, fieldSchema(f))
	}
	created := openapi3.NewDateTimeSchema()
	created.ReadOnly = true
	s.WithProperty("created_at", created)
	s.WithProperty("updated_at", created)
	return s
}

func addResource(doc *openapi3.T, res *Resource) {
	name := Humanize(res.Name)
	label := res.DisplayLabel()
	ref := "#/components/schemas/"

	doc.Components.Schemas[label+"Attributes"] = openapi3.NewSchemaRef("", attributesSchema(res))

	object := openapi3.NewObjectSchema().
		WithProperty("type", &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []any{res.Name}}).
		WithProperty("id", openapi3.NewStringSchema()).
		WithPropertyRef("attributes", openapi3.NewSchemaRef(ref+label+"Attributes", nil))
	object.Required = []string{"type", "id"}
	doc.Components.Schemas[label] = openapi3.NewSchemaRef("", object)

	single := openapi3.NewObjectSchema().WithPropertyRef("data", openapi3.NewSchemaRef(ref+label, nil))
	doc.Components.Schemas[label+"Document"] = openapi3.NewSchemaRef("", single)

	meta := openapi3.NewObjectSchema().
		WithProperty("total", openapi3.NewIntegerSchema()).
		WithProperty("limit", openapi3.NewIntegerSchema()).
		WithProperty("offset", openapi3.NewIntegerSchema())
	rows := openapi3.NewArraySchema()
	rows.Items = openapi3.NewSchemaRef(ref+label, nil)
	list := openapi3.NewObjectSchema().
		WithProperty("data", rows).
		WithProperty("meta", meta)
	doc.Components.Schemas[label+"List"] = openapi3.NewSchemaRef("", list)

	body := &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).
		WithContent(openapi3.NewContentWithSchemaRef(openapi3.NewSchemaRef(ref+label+"Document", nil), []string{"application/vnd.api+json"}))}

	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())}
	base := "/api/v1/" + res.Name

	listOp := &openapi3.Operation{
		OperationID: "list" + name,
		Summary:     "List " + res.Name,
		Tags:        []string{name},
		Parameters: openapi3.Parameters{
			queryParam("q", openapi3.NewStringSchema()),
			queryParam("sort", openapi3.NewStringSchema()),
			queryParam("page[size]", openapi3.NewIntegerSchema().WithDefault(DefaultPageSize)),
			queryParam("page[number]", openapi3.NewIntegerSchema().WithDefault(1)),
			queryParam("page[offset]", openapi3.NewIntegerSchema()),
		},
		Responses: responses(http.StatusOK, ref+label+"List"),
	}
	for _, f := range res.Fields {
		if !f.WriteOnly {
			listOp.Parameters = append(listOp.Parameters, queryParam("filter["+f.Name+"]", openapi3.NewStringSchema()))
		}
	}

	doc.Paths.Set(base, &openapi3.PathItem{
		Get: listOp,
		Post: &openapi3.Operation{
			OperationID: "create" + label,
			Summary:     "Create a " + label,
			Tags:        []string{name},
			RequestBody: body,
			Responses:   responses(http.StatusCreated, ref+label+"Document"),
		},
	})

	doc.Paths.Set(base+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			OperationID: "get" + label,
			Summary:     "Get a " + label,
			Tags:        []string{name},
			Responses:   responses(http.StatusOK, ref+label+"Document"),
		},
		Patch: &openapi3.Operation{
			OperationID: "update" + label,
			Summary:     "Update a " + label,
			Tags:        []string{name},
			RequestBody: body,
			Responses:   responses(http.StatusOK, ref+label+"Document"),
		},
		Delete: &openapi3.Operation{
			OperationID: "delete" + label,
			Summary:     "Delete a " + label,
			Tags:        []string{name},
			Responses:   responses(http.StatusNoContent, ""),
		},
	})

	if len(res.Toggles) > 0 {
		field := openapi3.NewStringSchema()
		for _, t := range res.Toggles {
			field.Enum = append(field.Enum, t)
		}
		doc.Paths.Set(base+"/{id}/toggle/{field}", &openapi3.PathItem{
			Parameters: openapi3.Parameters{idParam,
				{Value: openapi3.NewPathParameter("field").WithSchema(field)}},
			Post: &openapi3.Operation{
				OperationID: "toggle" + label,
				Summary:     "Flip a boolean field of a " + label,
				Tags:        []string{name},
				Responses:   responses(http.StatusOK, ref+label+"Document"),
			},
		})
	}

	if sm := res.StateMachine; sm != nil {
		state := openapi3.NewStringSchema()
		for _, st := range sm.AllStates() {
			state.Enum = append(state.Enum, st)
		}
		doc.Paths.Set(base+"/{id}/transition/{state}", &openapi3.PathItem{
			Parameters: openapi3.Parameters{idParam,
				{Value: openapi3.NewPathParameter("state").WithSchema(state)}},
			Post: &openapi3.Operation{
				OperationID: "transition" + label,
				Summary:     "Move a " + label + " to another " + sm.Field,
				Tags:        []string{name},
				Responses:   responses(http.StatusOK, ref+label+"Document"),
			},
		})
	}
}

func queryParam(name string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithSchema(schema)}
}

// responses returns the success response plus the JSON:API error responses.
func responses(status int, schemaRef string) *openapi3.Responses {
	ok := openapi3.NewResponse().WithDescription(http.StatusText(status))
	if schemaRef != "" {
		ok.WithContent(openapi3.NewContentWithSchemaRef(openapi3.NewSchemaRef(schemaRef, nil), []string{"application/vnd.api+json"}))
	}
	errContent := openapi3.NewContentWithSchemaRef(openapi3.NewSchemaRef("#/components/schemas/Error", nil), []string{"application/vnd.api+json"})

	opts := []openapi3.NewResponsesOption{openapi3.WithStatus(status, &openapi3.ResponseRef{Value: ok})}
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict} {
		resp := openapi3.NewResponse().WithDescription(http.StatusText(code)).WithContent(errContent)
		opts = append(opts, openapi3.WithStatus(code, &openapi3.ResponseRef{Value: resp}))
	}
	return openapi3.NewResponses(opts...)
}

// openAPIHandler serves the document, built once on first request.
func openAPIHandler(resources []*Resource, title, version string) http.HandlerFunc {
	var (
		once sync.Once
		body []byte
		err  error
	)
	return func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			body, err = json.Marshal(OpenAPIDocument(resources, title, version))
		})
		if err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}
