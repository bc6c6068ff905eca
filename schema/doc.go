// Package schema validates request payloads before they reach a handler.
//
// Schemas are registered per request name. A request whose payload breaks
// its schema is answered with an error value listing every violation:
//
//	validator := schema.NewValidator()
//	validator.Register("greet", &schema.Schema{
//	    Type:     "object",
//	    Required: []string{"name"},
//	    Properties: map[string]*schema.PropertyDef{
//	        "name": {Type: "string", MinLength: schema.Int(1)},
//	    },
//	})
//
//	dispatcher := messaging.NewDispatcher(
//	    messaging.WithMiddleware(validator.Middleware()),
//	)
//
// Names without a schema pass through unchecked.
package schema
