package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

const (
	tagKeys    = "keys"
	tagAdmin   = "admin"
	tagSession = "session"
	tagSystem  = "system"
)

// Generate builds the OpenAPI 3.1 document describing the latch HTTP API.
// baseURL is advertised as the single server entry; version is the build
// version reported in Info.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Latch License API",
			Description: "License key issuance, hardware-bound redemption and leak detection.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	addPublicPaths(doc)
	addAdminPaths(doc)
	addSessionPaths(doc)
	addSystemPaths(doc)

	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addPublicPaths(doc *openapi3.T) {
	redeem := &openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Redeem a key",
		Description: "Activate a key for a device. The first redemption binds the key to the presented hardware id; a later redemption from different hardware bans the key.",
		OperationID: "redeem_key",
		RequestBody: jsonBody("Redemption attempt", "RedeemRequest"),
		Responses:   newResponses("200", "Key activated", ref("RedeemResponse"), "400", "403", "404", "503"),
	}
	doc.Paths.Set("/api/redeem", &openapi3.PathItem{Post: redeem})

	check := &openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Check a key",
		Description: "Return the current status of a key without changing it.",
		OperationID: "check_key",
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter("key").
					WithDescription("Key string to look up").
					WithRequired(true).
					WithSchema(openapi3.NewStringSchema()),
			},
		},
		Responses: newResponses("200", "Key status", ref("KeyStatus"), "400", "404", "503"),
	}
	doc.Paths.Set("/api/checkkey", &openapi3.PathItem{Get: check})
}

func addAdminPaths(doc *openapi3.T) {
	bearer := &openapi3.SecurityRequirements{{"bearerAuth": {}}}

	create := &openapi3.Operation{
		Tags:        []string{tagAdmin},
		Summary:     "Issue a key",
		OperationID: "create_key",
		RequestBody: jsonBody("Key lifetime and issuer", "CreateKeyRequest"),
		Responses:   newResponses("200", "Issued key", ref("CreateKeyResponse"), "400", "401", "403", "409", "503"),
		Security:    bearer,
	}
	doc.Paths.Set("/api/createkey", &openapi3.PathItem{Post: create})

	list := &openapi3.Operation{
		Tags:        []string{tagAdmin},
		Summary:     "List keys",
		OperationID: "list_keys",
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter("status").
					WithDescription("Only return keys with this status").
					WithSchema(openapi3.NewStringSchema().WithEnum("normal", "banned")),
			},
		},
		Responses: newResponses("200", "All keys", ref("KeyList"), "400", "401", "403", "503"),
		Security:  bearer,
	}
	doc.Paths.Set("/api/keys", &openapi3.PathItem{Get: list})

	actions := []struct {
		path, id, summary string
	}{
		{"/api/ban", "ban_key", "Ban a key"},
		{"/api/unban", "unban_key", "Lift a ban"},
		{"/api/deletekey", "delete_key", "Delete a key"},
	}
	for _, a := range actions {
		doc.Paths.Set(a.path, &openapi3.PathItem{Post: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     a.summary,
			OperationID: a.id,
			RequestBody: jsonBody("Target key", "KeyRequest"),
			Responses:   newResponses("200", "Done", ref("MessageResponse"), "400", "401", "403", "404", "503"),
			Security:    bearer,
		}})
	}
}

func addSessionPaths(doc *openapi3.T) {
	login := &openapi3.Operation{
		Tags:        []string{tagSession},
		Summary:     "Admin login",
		OperationID: "admin_login",
		RequestBody: jsonBody("Admin credentials", "LoginRequest"),
		Responses:   newResponses("200", "Session token", ref("LoginResponse"), "400", "401"),
	}
	logout := &openapi3.Operation{
		Tags:        []string{tagSession},
		Summary:     "Admin logout",
		Description: "Sessions are stateless JWTs; clients discard the token.",
		OperationID: "admin_logout",
		Responses:   newResponses("200", "Logged out", nil),
	}
	doc.Paths.Set("/api/system/admin/session", &openapi3.PathItem{Post: login, Delete: logout})
}

func addSystemPaths(doc *openapi3.T) {
	status := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"status": openapi3.NewStringSchema().NewRef(),
		},
	}}
	doc.Paths.Set("/healthz", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagSystem},
		Summary:     "Liveness probe",
		OperationID: "healthz",
		Responses:   newResponses("200", "Process is running", status),
	}})
	doc.Paths.Set("/readyz", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagSystem},
		Summary:     "Readiness probe",
		OperationID: "readyz",
		Responses:   newResponses("200", "Store reachable", status, "503"),
	}})
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func componentSchemas() openapi3.Schemas {
	str := func(desc string) *openapi3.SchemaRef {
		s := openapi3.NewStringSchema()
		s.Description = desc
		return s.NewRef()
	}
	dateTime := func(desc string) *openapi3.SchemaRef {
		s := openapi3.NewDateTimeSchema()
		s.Description = desc
		return s.NewRef()
	}
	object := func(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Required:   required,
			Properties: props,
		}}
	}

	days := openapi3.NewIntegerSchema()
	days.Description = "Lifetime in days; defaults to 3"
	days.Min = openapi3.Float64Ptr(0)

	return openapi3.Schemas{
		"ErrorResponse": object([]string{"error"}, openapi3.Schemas{
			"error": object([]string{"code", "message"}, openapi3.Schemas{
				"code":    openapi3.NewInt32Schema().NewRef(),
				"message": openapi3.NewStringSchema().NewRef(),
				"context": openapi3.NewObjectSchema().NewRef(),
			}),
		}),
		"RedeemRequest": object([]string{"key", "hwid", "user_id"}, openapi3.Schemas{
			"key":     str("Key string"),
			"hwid":    str("Hardware id of the redeeming device"),
			"user_id": str("Account redeeming the key"),
		}),
		"RedeemResponse": object(nil, openapi3.Schemas{
			"message": str(""),
			"key":     str(""),
			"hwid":    str("Hardware id the key is bound to"),
		}),
		"CreateKeyRequest": object(nil, openapi3.Schemas{
			"days":       days.NewRef(),
			"created_by": str("Issuer; defaults to the authenticated admin"),
		}),
		"CreateKeyResponse": object(nil, openapi3.Schemas{
			"message": str(""),
			"key":     str("Issued key string"),
			"expires": dateTime("Expiry instant"),
		}),
		"KeyRequest": object([]string{"key"}, openapi3.Schemas{
			"key": str("Key string"),
		}),
		"KeyStatus": object(nil, openapi3.Schemas{
			"key":        str(""),
			"status":     &openapi3.SchemaRef{Value: openapi3.NewStringSchema().WithEnum("Normal", "Banned")},
			"expires":    dateTime(""),
			"expired":    openapi3.NewBoolSchema().NewRef(),
			"hwid":       str(`Bound hardware id, or "unassigned"`),
			"used_by":    openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()).NewRef(),
			"is_banned":  openapi3.NewBoolSchema().NewRef(),
			"violations": openapi3.NewIntegerSchema().NewRef(),
			"created_by": str(""),
			"created_at": dateTime(""),
		}),
		"KeyList": object([]string{"resource"}, openapi3.Schemas{
			"resource": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: ref("KeyStatus"),
			}},
			"meta": object(nil, openapi3.Schemas{
				"count":   openapi3.NewIntegerSchema().NewRef(),
				"took_ms": openapi3.NewFloat64Schema().NewRef(),
			}),
		}),
		"MessageResponse": object(nil, openapi3.Schemas{
			"message": str(""),
		}),
		"LoginRequest": object([]string{"email", "password"}, openapi3.Schemas{
			"email":    str(""),
			"password": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "password"}},
		}),
		"LoginResponse": object(nil, openapi3.Schemas{
			"session_token": str("JWT bearer token"),
			"token_type":    str(""),
			"expires_in":    openapi3.NewIntegerSchema().NewRef(),
			"email":         str(""),
			"name":          str(""),
		}),
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func jsonBody(description, schema string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(schema)),
		},
	}
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not found",
	"409": "Conflict",
	"503": "Storage unavailable",
}

// newResponses builds a Responses map with a success response and the listed
// error statuses, all of which share the ErrorResponse envelope.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	success := &openapi3.Response{Description: &successDesc}
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(statusCode, &openapi3.ResponseRef{Value: success})

	errorRef := ref("ErrorResponse")
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
