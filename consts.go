package main

const (
	exampleClient = "qcp ./file user@203.0.113.10:/tmp/file"
	exampleGet    = "qcp user@203.0.113.10:/tmp/file ./file"
	exampleServer = "qcp --server"

	defaultSSHPath        = "ssh"
	defaultTimeoutSeconds = 5

	sshSubsystemName = "qcp"
)
