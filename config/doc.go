// Package config loads what an avflow process runs with.
//
// Settings are process-wide knobs read from AVFLOW_* environment variables
// with envconfig. Every field has a default, so an empty environment is a
// valid configuration:
//
//	settings, err := config.LoadSettings()
//
// A Graph describes the streamlets to build and how to link them. It is read
// from a YAML file (JSON is accepted too) and validated before anything is
// constructed:
//
//	streamlets:
//	  - name: cam
//	    kind: input
//	    nodes:
//	      - category: Demux
//	        variant: mp4
//	        tag: demux
//	        options:
//	          InputUrl: cam.mp4
//	      - category: VideoDecode
//	  - name: record
//	    kind: singleNode
//	    input: InVideoRaw
//	    output: OutVideoBitstream
//	    nodes:
//	      - category: Mux
//	        options:
//	          OutputUrl: out.mp4
//	links:
//	  - from: cam
//	    to: record
//	    media: video
//
// Node option keys that name a typed option are checked against the option's
// kind; all other keys are handed to the implementation as raw strings.
// Graph files must stay inside the working directory when given as relative
// paths and are capped at 1MB.
package config
