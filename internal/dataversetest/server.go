// Package dataversetest runs an in-process fake of the Dataverse Web API for
// tests. It understands the subset of the API the provisioning flows use and
// keeps enough state (tables, choices, records, roles, privileges) for
// create/list/delete round trips.
package dataversetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// Default identities returned by WhoAmI.
const (
	UserID         = "11111111-1111-1111-1111-111111111111"
	BusinessUnitID = "22222222-2222-2222-2222-222222222222"
	OrganizationID = "33333333-3333-3333-3333-333333333333"
)

// PrivilegeVerbs are the privileges created for every table.
var PrivilegeVerbs = []string{"Create", "Read", "Write", "Delete", "Append", "AppendTo", "Assign", "Share"}

// Request is a request the server received.
type Request struct {
	Method string
	// Path is relative to the API root, e.g. "EntityDefinitions".
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

// Association is an N:N link created through $ref.
type Association struct {
	EntitySet    string
	ID           string
	Relationship string
	Target       string
}

type record struct {
	id     string
	fields map[string]any
}

type role struct {
	id         string
	name       string
	bu         string
	privileges []map[string]any
}

type failure struct {
	method string
	path   string
	status int
	left   int
}

// Server is a fake Dataverse environment.
type Server struct {
	*httptest.Server

	// PageSize limits records per list page. Zero means 5000.
	PageSize int

	// OmitEntityID drops the OData-EntityId header from record creates so
	// callers must read the id from the representation.
	OmitEntityID bool

	mu           sync.Mutex
	seq          int
	requests     []Request
	tables       map[string]string // logical name -> entity set
	choices      map[string]string // lower-case name -> id
	privileges   map[string]string // name -> id
	records      map[string][]record
	roles        []*role
	associations []Association
	failures     []*failure
}

// New starts a server and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		tables:     make(map[string]string),
		choices:    make(map[string]string),
		privileges: make(map[string]string),
		records:    make(map[string][]record),
	}
	r := gin.New()
	r.Any("/api/data/:version/*path", s.handle)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddTable registers an existing table with its privileges and returns its
// entity set name.
func (s *Server) AddTable(logicalName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTableLocked(logicalName)
}

func (s *Server) addTableLocked(logicalName string) string {
	set := pluralize(logicalName)
	s.tables[logicalName] = set
	for _, verb := range PrivilegeVerbs {
		name := "prv" + verb + logicalName
		if _, ok := s.privileges[name]; !ok {
			s.privileges[name] = s.newIDLocked()
		}
	}
	return set
}

// AddRole registers an existing role in the default business unit.
func (s *Server) AddRole(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &role{id: s.newIDLocked(), name: name, bu: BusinessUnitID}
	s.roles = append(s.roles, r)
	return r.id
}

// AddRecords inserts n records holding only their primary key into
// entitySet and returns their ids.
func (s *Server) AddRecords(entitySet string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := s.newIDLocked()
		fields := map[string]any{primaryKey(entitySet): id}
		s.records[entitySet] = append(s.records[entitySet], record{id: id, fields: fields})
		ids = append(ids, id)
	}
	return ids
}

// Fail makes the next times requests matching method and a path containing
// pathPart fail with status. An empty method matches any method.
func (s *Server) Fail(method, pathPart string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, path: pathPart, status: status, left: times})
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the requests with the given method whose path starts
// with prefix.
func (s *Server) RequestsTo(method, prefix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// Tables returns the logical names of existing tables, sorted.
func (s *Server) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Choices returns the names of existing global choices, sorted.
func (s *Server) Choices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.choices))
	for name := range s.choices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Records returns the fields of every record in entitySet, in creation order.
func (s *Server) Records(entitySet string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.records[entitySet]))
	for _, r := range s.records[entitySet] {
		out = append(out, r.fields)
	}
	return out
}

// RoleNames returns the names of existing roles in creation order.
func (s *Server) RoleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r.name)
	}
	return out
}

// RolePrivileges returns the privileges granted to the named role.
func (s *Server) RolePrivileges(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.name == name {
			return append([]map[string]any(nil), r.privileges...)
		}
	}
	return nil
}

// Associations returns the N:N links created so far.
func (s *Server) Associations() []Association {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Association(nil), s.associations...)
}

func (s *Server) newIDLocked() string {
	s.seq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", s.seq)
}

// pluralize mirrors the default entity set naming for the names used here.
func pluralize(logical string) string {
	switch {
	case strings.HasSuffix(logical, "y"):
		return strings.TrimSuffix(logical, "y") + "ies"
	case strings.HasSuffix(logical, "s"):
		return logical + "es"
	default:
		return logical + "s"
	}
}

// primaryKey inverts pluralize and appends "id".
func primaryKey(set string) string {
	switch {
	case strings.HasSuffix(set, "ies"):
		return strings.TrimSuffix(set, "ies") + "yid"
	case strings.HasSuffix(set, "ses"):
		return strings.TrimSuffix(set, "es") + "id"
	default:
		return strings.TrimSuffix(set, "s") + "id"
	}
}

var segmentPattern = regexp.MustCompile(`^([^(]+)(?:\((.*)\))?$`)

// segment splits "EntityDefinitions(LogicalName='x')" into its name and key.
type segment struct {
	name string
	key  string
}

func parseSegments(path string) []segment {
	var out []segment
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		m := segmentPattern.FindStringSubmatch(part)
		if m == nil {
			out = append(out, segment{name: part})
			continue
		}
		out = append(out, segment{name: m[1], key: m[2]})
	}
	return out
}

// keyValue extracts the literal from LogicalName='x' or Name='x'.
func keyValue(key string) string {
	if i := strings.Index(key, "="); i >= 0 {
		key = key[i+1:]
	}
	return strings.ReplaceAll(strings.Trim(key, "'"), "''", "'")
}

func (s *Server) handle(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	var body map[string]any
	if c.Request.Body != nil {
		raw, _ := io.ReadAll(c.Request.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				apiError(c, http.StatusBadRequest, "0x80048d19", "malformed JSON: "+err.Error())
				return
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method: c.Request.Method,
		Path:   path,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header.Clone(),
		Body:   body,
	})

	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		apiError(c, http.StatusUnauthorized, "0x80072560", "missing bearer token")
		return
	}
	if f := s.takeFailureLocked(c.Request.Method, path); f != nil {
		apiError(c, f.status, "0x80040216", "injected failure")
		return
	}

	segs := parseSegments(path)
	switch segs[0].name {
	case "WhoAmI":
		c.JSON(http.StatusOK, gin.H{
			"UserId":         UserID,
			"BusinessUnitId": BusinessUnitID,
			"OrganizationId": OrganizationID,
		})
	case "EntityDefinitions":
		s.handleEntityDefinitions(c, segs, body)
	case "GlobalOptionSetDefinitions":
		s.handleOptionSets(c, segs, body)
	case "RelationshipDefinitions":
		s.created(c, http.StatusNoContent, "RelationshipDefinitions", s.newIDLocked(), nil)
	case "privileges":
		s.handlePrivileges(c)
	case "roles":
		s.handleRoles(c, segs, body)
	default:
		s.handleRecords(c, segs, body)
	}
}

func (s *Server) takeFailureLocked(method, path string) *failure {
	for i, f := range s.failures {
		if (f.method == "" || f.method == method) && strings.Contains(path, f.path) {
			f.left--
			if f.left <= 0 {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
			}
			return f
		}
	}
	return nil
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func (s *Server) created(c *gin.Context, status int, collection, id string, representation map[string]any) {
	if collection != "" {
		c.Header("OData-EntityId", s.URL+"/api/data/"+c.Param("version")+"/"+collection+"("+id+")")
	}
	if representation == nil {
		c.Status(status)
		return
	}
	c.JSON(status, representation)
}

func (s *Server) handleEntityDefinitions(c *gin.Context, segs []segment, body map[string]any) {
	method := c.Request.Method
	if segs[0].key == "" {
		if method != http.MethodPost {
			apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
			return
		}
		schema, _ := body["SchemaName"].(string)
		if schema == "" {
			apiError(c, http.StatusBadRequest, "0x80048d19", "SchemaName is required")
			return
		}
		logical := strings.ToLower(schema)
		if _, ok := s.tables[logical]; ok {
			apiError(c, http.StatusBadRequest, "0x80044363", "table "+logical+" already exists")
			return
		}
		s.addTableLocked(logical)
		s.created(c, http.StatusNoContent, "EntityDefinitions", s.newIDLocked(), nil)
		return
	}

	logical := keyValue(segs[0].key)
	set, ok := s.tables[logical]
	if !ok {
		apiError(c, http.StatusNotFound, "0x80040217", "Could not find entity with LogicalName "+logical)
		return
	}

	if len(segs) == 1 {
		switch method {
		case http.MethodGet:
			c.JSON(http.StatusOK, gin.H{"LogicalName": logical, "EntitySetName": set})
		case http.MethodPatch:
			c.Status(http.StatusNoContent)
		case http.MethodDelete:
			delete(s.tables, logical)
			delete(s.records, set)
			c.Status(http.StatusNoContent)
		default:
			apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
		}
		return
	}

	// Attributes
	switch method {
	case http.MethodPost:
		s.created(c, http.StatusNoContent, "Attributes", s.newIDLocked(), nil)
	case http.MethodPatch:
		c.Status(http.StatusNoContent)
	default:
		apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
	}
}

func (s *Server) handleOptionSets(c *gin.Context, segs []segment, body map[string]any) {
	switch c.Request.Method {
	case http.MethodPost:
		name, _ := body["Name"].(string)
		if name == "" {
			apiError(c, http.StatusBadRequest, "0x80048d19", "Name is required")
			return
		}
		if _, ok := s.choices[name]; ok {
			apiError(c, http.StatusBadRequest, "0x80044363", "option set "+name+" already exists")
			return
		}
		id := s.newIDLocked()
		s.choices[name] = id
		s.created(c, http.StatusNoContent, "GlobalOptionSetDefinitions", id, nil)
	case http.MethodDelete:
		name := keyValue(segs[0].key)
		if _, ok := s.choices[name]; !ok {
			apiError(c, http.StatusNotFound, "0x80040217", "option set "+name+" not found")
			return
		}
		delete(s.choices, name)
		c.Status(http.StatusNoContent)
	default:
		apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
	}
}

var (
	nameEqPattern = regexp.MustCompile(`name eq '((?:[^']|'')*)'`)
	buEqPattern   = regexp.MustCompile(`_businessunitid_value eq '([^']*)'`)
)

func (s *Server) handlePrivileges(c *gin.Context) {
	var value []gin.H
	for _, m := range nameEqPattern.FindAllStringSubmatch(c.Query("$filter"), -1) {
		name := strings.ReplaceAll(m[1], "''", "'")
		if id, ok := s.privileges[name]; ok {
			value = append(value, gin.H{"privilegeid": id, "name": name})
		}
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) findRoleLocked(id string) *role {
	for _, r := range s.roles {
		if r.id == id {
			return r
		}
	}
	return nil
}

func (s *Server) handleRoles(c *gin.Context, segs []segment, body map[string]any) {
	method := c.Request.Method
	if segs[0].key == "" {
		switch method {
		case http.MethodGet:
			filter := c.Query("$filter")
			var name, bu string
			if m := nameEqPattern.FindStringSubmatch(filter); m != nil {
				name = strings.ReplaceAll(m[1], "''", "'")
			}
			if m := buEqPattern.FindStringSubmatch(filter); m != nil {
				bu = m[1]
			}
			value := []gin.H{}
			for _, r := range s.roles {
				if r.name == name && (bu == "" || r.bu == bu) {
					value = append(value, gin.H{"roleid": r.id, "name": r.name})
				}
			}
			c.JSON(http.StatusOK, gin.H{"value": value})
		case http.MethodPost:
			name, _ := body["name"].(string)
			bind, _ := body["businessunitid@odata.bind"].(string)
			r := &role{id: s.newIDLocked(), name: name, bu: strings.TrimSuffix(strings.TrimPrefix(bind, "/businessunits("), ")")}
			s.roles = append(s.roles, r)
			s.created(c, http.StatusNoContent, "roles", r.id, nil)
		default:
			apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
		}
		return
	}

	r := s.findRoleLocked(segs[0].key)
	if r == nil {
		apiError(c, http.StatusNotFound, "0x80040217", "role "+segs[0].key+" not found")
		return
	}
	if len(segs) > 1 && segs[1].name == "Microsoft.Dynamics.CRM.AddPrivilegesRole" && method == http.MethodPost {
		privs, _ := body["Privileges"].([]any)
		for _, p := range privs {
			if m, ok := p.(map[string]any); ok {
				r.privileges = append(r.privileges, m)
			}
		}
		c.Status(http.StatusNoContent)
		return
	}
	if len(segs) == 1 && method == http.MethodDelete {
		for i, x := range s.roles {
			if x == r {
				s.roles = append(s.roles[:i], s.roles[i+1:]...)
				break
			}
		}
		c.Status(http.StatusNoContent)
		return
	}
	apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
}

func (s *Server) knownSetLocked(set string) bool {
	if set == "systemusers" {
		return true
	}
	for _, v := range s.tables {
		if v == set {
			return true
		}
	}
	_, ok := s.records[set]
	return ok
}

func (s *Server) findRecordLocked(set, id string) int {
	if set == "systemusers" && id == UserID {
		return 0
	}
	for i, r := range s.records[set] {
		if r.id == id {
			return i
		}
	}
	return -1
}

func (s *Server) handleRecords(c *gin.Context, segs []segment, body map[string]any) {
	set := segs[0].name
	if !s.knownSetLocked(set) {
		apiError(c, http.StatusNotFound, "0x80060888", "Resource not found for the segment '"+set+"'")
		return
	}
	method := c.Request.Method

	if segs[0].key == "" {
		switch method {
		case http.MethodPost:
			id := s.newIDLocked()
			fields := make(map[string]any, len(body)+1)
			for k, v := range body {
				fields[k] = v
			}
			fields[primaryKey(set)] = id
			s.records[set] = append(s.records[set], record{id: id, fields: fields})
			collection := set
			if s.OmitEntityID {
				collection = ""
			}
			if strings.Contains(c.GetHeader("Prefer"), "return=representation") {
				s.created(c, http.StatusCreated, collection, id, fields)
				return
			}
			s.created(c, http.StatusNoContent, collection, id, nil)
		case http.MethodGet:
			s.listRecords(c, set)
		default:
			apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
		}
		return
	}

	id := segs[0].key
	idx := s.findRecordLocked(set, id)
	if idx < 0 {
		apiError(c, http.StatusNotFound, "0x80040217", set+" With Id = "+id+" Does Not Exist")
		return
	}

	if len(segs) == 3 && segs[2].name == "$ref" && method == http.MethodPost {
		target, _ := body["@odata.id"].(string)
		if target == "" {
			apiError(c, http.StatusBadRequest, "0x80048d19", "@odata.id is required")
			return
		}
		s.associations = append(s.associations, Association{
			EntitySet:    set,
			ID:           id,
			Relationship: segs[1].name,
			Target:       target,
		})
		c.Status(http.StatusNoContent)
		return
	}

	if len(segs) == 1 && method == http.MethodDelete {
		s.records[set] = append(s.records[set][:idx], s.records[set][idx+1:]...)
		c.Status(http.StatusNoContent)
		return
	}
	apiError(c, http.StatusMethodNotAllowed, "0x8006088a", "unsupported")
}

func (s *Server) listRecords(c *gin.Context, set string) {
	size := s.PageSize
	if size <= 0 {
		size = 5000
	}
	skip, _ := strconv.Atoi(c.Query("$skiptoken"))
	selected := c.Query("$select")

	all := s.records[set]
	end := skip + size
	if end > len(all) {
		end = len(all)
	}
	value := []map[string]any{}
	if skip < len(all) {
		for _, r := range all[skip:end] {
			row := map[string]any{}
			for _, col := range strings.Split(selected, ",") {
				if v, ok := r.fields[col]; ok {
					row[col] = v
				}
			}
			if len(row) == 0 {
				row = r.fields
			}
			value = append(value, row)
		}
	}

	resp := gin.H{"value": value}
	if end < len(all) {
		q := url.Values{"$select": {selected}, "$skiptoken": {strconv.Itoa(end)}}
		resp["@odata.nextLink"] = s.URL + "/api/data/" + c.Param("version") + "/" + set + "?" + q.Encode()
	}
	c.JSON(http.StatusOK, resp)
}
