// Package multistep parses compound shell install recipes such as
//
//	git clone https://x/y && cd y && pip install -e .
//
// into typed steps and runs them sequentially, threading a live working
// directory and virtualenv path between steps. Splitting happens on
// top-level "&&" without quote awareness; fragments whose tokenization
// fails are rejected rather than run. A registry-supplied structured
// step list would remove that limitation.
package multistep
