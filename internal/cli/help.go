package cli

import "fmt"

func HelpText(program string) string {
	if program == "" {
		program = "pakrat"
	}
	return fmt.Sprintf(`%s - game archive container tool

Usage:
  %s -t -f <archive> [globs...]
  %s -x -f <archive> [globs...]
  %s -i -f <archive>
  %s -c -f <archive> [files...]
  %s [bundled flags] <archive> [members...]   (example: %s -tvf game.pak)

Modes:
  -t                List entries
  -x                Extract entries
  -i                Show container summary
  -c                Create a container from local files

Main Options:
  -f <archive>      Container path: local file or s3://bucket/key
  -C <dir>          Target directory for extract, source directory for create
  -O                Extract entry data to stdout
  -v                Verbose output (list adds sizes and method)
  -h, --help        Show this help message

Keys:
  --aes-key <GUID=hex>
                    Register a 32-byte AES key for an encryption domain;
                    repeatable; "default=hex" registers the default key
  --key-file <file> Register keys from a file, one GUID=hex per line,
                    # starts a comment

Create:
  --method <name>   Compression: none, zlib, gzip, lz4, zstd, xz, bzip2
                    (default zstd)
  --index <1-3>     Container version: 1 legacy inline index,
                    2 directory index, 3 directory index with BLAKE3
                    digests (default 3)
  --mount <prefix>  Mount point stored in the container
  --encrypt         Encrypt entry data and the index with the default key

Extract:
  --batch-size <n>  Entries per processing batch
  --fail-fast       Abort on the first entry error instead of recording
                    it and continuing
`, program, program, program, program, program, program, program)
}
