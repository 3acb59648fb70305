// Package parser reads hitsuite suite documents.
//
// A suite document is a YAML file describing a suite, its tests, their
// classes and each class's units:
//
//	name: checkout
//	parallel: methods
//	threadCount: 4
//	tests:
//	  - name: api
//	    classes:
//	      - name: api.CartTest
//	        units:
//	          - name: setUp
//	            config: beforeClass
//	            exec: ./scripts/seed.sh
//	          - name: addItem
//	            exec: go test ./cart -run TestAdd
//	            retry: {attempts: 2, delay: 1s}
//
// Documents are checked against an embedded JSON schema before they are
// decoded. Build turns a document into a suite.Suite whose units run shell
// commands or readiness probes from the exec package.
package parser
