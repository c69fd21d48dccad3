package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/vfs"
	"github.com/spf13/cobra"
)

// newShellCmd reproduces spec.md section 6's optional shell surface
// ("help, echo <text>, ls <path>, cat <path>, ps, probe <device>") as a
// real interactive CLI command against one booted instance's namespace
// and scheduler, rather than the excluded decorative braidshell TTY app.
func newShellCmd() *cobra.Command {
	var instance int

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell against one booted instance's VFS and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instance < 0 || instance > 2 {
				return fmt.Errorf("--instance must be 0, 1, or 2")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			w, err := newWorld(cfg, log)
			if err != nil {
				return err
			}
			init, err := w.spawnInit(instance)
			if err != nil {
				return err
			}
			return runShell(w, instance, init, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&instance, "instance", 0, "instance to attach to (0, 1, or 2)")
	return cmd
}

func runShell(w *world, instance int, initProc *proc.Process, in io.Reader, out io.Writer) error {
	ns := w.namespaces[instance]
	r := w.instances[instance]
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(out, "toriskernel shell — instance %d, run %s. Type 'help'.\n", instance, w.runID)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmdName, rest := fields[0], fields[1:]

		switch cmdName {
		case "help":
			fmt.Fprintln(out, "commands: help, echo <text>, ls <path>, cat <path>, ps, probe <device>, exit")
		case "exit", "quit":
			return nil
		case "echo":
			fmt.Fprintln(out, strings.Join(rest, " "))
		case "ls":
			path := "/"
			if len(rest) > 0 {
				path = rest[0]
			}
			names, errno := ns.List(path)
			if errno != proc.OK {
				fmt.Fprintf(out, "ls: %s: %s\n", path, errno)
				continue
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
		case "cat":
			if len(rest) == 0 {
				fmt.Fprintln(out, "cat: missing path")
				continue
			}
			shellCat(out, ns, initProc, rest[0])
		case "ps":
			for _, p := range r.Sched.Snapshot() {
				fmt.Fprintf(out, "%d\t%s\tppid=%d\n", p.PID, p.State(), p.ParentPID)
			}
		case "probe":
			if len(rest) == 0 {
				fmt.Fprintln(out, "probe: missing device name")
				continue
			}
			_, errno := ns.Stat("/dev/" + rest[0])
			if errno == proc.OK {
				fmt.Fprintf(out, "%s: present\n", rest[0])
			} else {
				fmt.Fprintf(out, "%s: %s\n", rest[0], errno)
			}
		default:
			fmt.Fprintf(out, "%s: command not found\n", cmdName)
		}
	}
}

func shellCat(out io.Writer, ns *vfs.Namespace, initProc *proc.Process, path string) {
	fd, errno := ns.Open(initProc, path, vfs.ORDONLY)
	if errno != proc.OK {
		fmt.Fprintf(out, "cat: %s: %s\n", path, errno)
		return
	}
	desc := initProc.FD(fd)
	buf := make([]byte, 4096)
	for {
		n, errno := ns.Read(desc, buf)
		if errno != proc.OK {
			fmt.Fprintf(out, "cat: %s: %s\n", path, errno)
			return
		}
		if n == 0 {
			return
		}
		out.Write(buf[:n])
	}
}
