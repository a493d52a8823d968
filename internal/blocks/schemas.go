package blocks

// JSON Schemas (draft 2020-12) for block payloads. Value fields typed {}
// accept a literal or a prefixed expression string.

const schemaEmpty = `{"type": "object"}`

const schemaIf = `{
  "type": "object",
  "properties": {
    "conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op"],
        "properties": {
          "lhs": {},
          "op": {"type": "string", "enum": ["==","!=",">",">=","<","<=","contains","not_contains","starts_with","ends_with","is_empty","is_not_empty"]},
          "rhs": {}
        }
      }
    },
    "combinator": {"type": "string", "enum": ["and", "or"]},
    "expression": {"type": "string"}
  },
  "anyOf": [
    {"required": ["conditions"]},
    {"required": ["expression"]}
  ]
}`

const schemaForLoop = `{
  "type": "object",
  "required": ["start", "end"],
  "properties": {
    "start": {"type": ["number", "string"]},
    "end": {"type": ["number", "string"]},
    "step": {"type": ["number", "string"]},
    "indexVar": {"type": "string", "minLength": 1}
  }
}`

const schemaForEachLoop = `{
  "type": "object",
  "properties": {
    "values": {"type": ["array", "string"]},
    "useParam": {"type": "boolean"},
    "itemVar": {"type": "string", "minLength": 1},
    "indexVar": {"type": "string", "minLength": 1}
  },
  "anyOf": [
    {"required": ["values"]},
    {"required": ["useParam"], "properties": {"useParam": {"const": true}}}
  ]
}`

const schemaTransformer = `{
  "type": "object",
  "properties": {
    "useJs": {"type": "boolean"},
    "js": {"type": "string"},
    "fieldMap": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "if": {"required": ["useJs"], "properties": {"useJs": {"const": true}}},
  "then": {"required": ["js"]},
  "else": {"required": ["fieldMap"]}
}`

const schemaSetVar = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "value": {},
    "useParam": {"type": "boolean"}
  }
}`

const schemaGetVar = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1}
  }
}`

const schemaConsoleLog = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {},
    "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
  }
}`

const schemaJSRunner = `{
  "type": "object",
  "required": ["js"],
  "properties": {
    "js": {"type": "string", "minLength": 1}
  }
}`

const schemaResponse = `{
  "type": "object",
  "properties": {
    "httpCode": {"type": ["integer", "string"]},
    "body": {}
  }
}`

const schemaArrayOps = `{
  "type": "object",
  "required": ["variable", "op"],
  "properties": {
    "variable": {"type": "string", "minLength": 1},
    "op": {"type": "string", "enum": ["push", "pop", "shift", "unshift"]},
    "value": {},
    "useParam": {"type": "boolean"}
  }
}`

const schemaNamedRead = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "variable": {"type": "string"}
  }
}`

const schemaNamedWrite = `{
  "type": "object",
  "required": ["name", "value"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "value": {}
  }
}`

const schemaSetCookie = `{
  "type": "object",
  "required": ["name", "value"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "value": {},
    "path": {"type": "string"},
    "domain": {"type": "string"},
    "maxAge": {"type": "integer"},
    "secure": {"type": "boolean"},
    "httpOnly": {"type": "boolean"},
    "sameSite": {"type": "string", "enum": ["", "lax", "strict", "none"]}
  }
}`

const schemaGetParam = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "paramType": {"type": "string", "enum": ["query", "path"]},
    "variable": {"type": "string"}
  }
}`

const schemaGetRequestBody = `{
  "type": "object",
  "properties": {
    "variable": {"type": "string"}
  }
}`

const schemaHTTPRequest = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "method": {"type": "string"},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object"},
    "body": {},
    "useParam": {"type": "boolean"},
    "bodyEncoding": {"type": "string", "enum": ["json", "form", "text"]},
    "timeout": {"type": "string", "pattern": "^[0-9]+(ms|s|m)$"},
    "failOnErrorStatus": {"type": "boolean"}
  }
}`

const schemaDBFilter = `{
  "type": "object",
  "required": ["integrationId", "table"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "filter": {"type": "object"},
    "useParam": {"type": "boolean"}
  }
}`

const schemaDBGetAll = `{
  "type": "object",
  "required": ["integrationId", "table"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "filter": {"type": "object"},
    "useParam": {"type": "boolean"},
    "orderBy": {"type": "string"},
    "desc": {"type": "boolean"},
    "limit": {"type": ["integer", "string"]}
  }
}`

const schemaDBWrite = `{
  "type": "object",
  "required": ["integrationId", "table"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "data": {"type": ["object", "string"]},
    "useParam": {"type": "boolean"}
  },
  "anyOf": [
    {"required": ["data"]},
    {"required": ["useParam"], "properties": {"useParam": {"const": true}}}
  ]
}`

const schemaDBInsertBulk = `{
  "type": "object",
  "required": ["integrationId", "table"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "rows": {"type": ["array", "string"]},
    "useParam": {"type": "boolean"}
  },
  "anyOf": [
    {"required": ["rows"]},
    {"required": ["useParam"], "properties": {"useParam": {"const": true}}}
  ]
}`

const schemaDBUpdate = `{
  "type": "object",
  "required": ["integrationId", "table", "filter"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "filter": {"type": "object"},
    "data": {"type": ["object", "string"]},
    "useParam": {"type": "boolean"}
  },
  "anyOf": [
    {"required": ["data"]},
    {"required": ["useParam"], "properties": {"useParam": {"const": true}}}
  ]
}`

const schemaDBNative = `{
  "type": "object",
  "required": ["integrationId", "query"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1},
    "query": {"type": "string", "minLength": 1},
    "params": {"type": ["array", "string"]},
    "useParam": {"type": "boolean"}
  }
}`

const schemaDBTransaction = `{
  "type": "object",
  "required": ["integrationId"],
  "properties": {
    "integrationId": {"type": "string", "minLength": 1}
  }
}`
