package http

// OpenAPI describes the status endpoints served under /api/docs
const OpenAPI = `{
  "openapi": "3.0.3",
  "info": {"title": "archiver status", "version": "1.0.0"},
  "paths": {
    "/healthz": {
      "get": {
        "tags": ["Status"],
        "summary": "Backend readiness",
        "responses": {
          "200": {"description": "ok"},
          "503": {"description": "a backend is down"}
        }
      }
    },
    "/v1/run": {
      "get": {
        "tags": ["Status"],
        "summary": "Current or last run snapshot",
        "responses": {
          "200": {
            "description": "ok",
            "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Envelope"}}}
          },
          "404": {"description": "no run yet"}
        }
      }
    },
    "/metrics": {
      "get": {
        "tags": ["Status"],
        "summary": "Prometheus metrics",
        "responses": {"200": {"description": "text exposition format"}}
      }
    }
  },
  "components": {
    "schemas": {
      "Envelope": {
        "type": "object",
        "properties": {
          "status_code": {"type": "integer"},
          "status": {"type": "string"},
          "request_id": {"type": "string"},
          "data": {"$ref": "#/components/schemas/RunSnapshot"}
        }
      },
      "RunSnapshot": {
        "type": "object",
        "properties": {
          "run_id": {"type": "string"},
          "started_at": {"type": "string", "format": "date-time"},
          "finished_at": {"type": "string", "format": "date-time", "nullable": true},
          "continuation": {"type": "boolean"},
          "sites_selected": {"type": "integer"},
          "sites_archived": {"type": "integer"},
          "visits_today": {"type": "integer"},
          "periods_archived": {"type": "integer"},
          "jobs_enqueued": {"type": "integer"},
          "jobs_resolved": {"type": "integer"},
          "skipped": {"type": "object", "additionalProperties": {"type": "integer"}},
          "skipped_total": {"type": "integer"},
          "errors": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`
